package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrSessionTerminated is returned when a write targets a session whose
// status is terminal. Terminal states are absorbing; the message log never
// grows again.
var ErrSessionTerminated = errors.New("storage: session already terminated")

// ErrWriteConflict is returned when a concurrent turn appended to the same
// session between the caller's read and its write. The caller may reload and
// retry or surface the condition as transient.
var ErrWriteConflict = errors.New("storage: concurrent write conflict")
