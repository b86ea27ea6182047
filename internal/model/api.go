package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeSessionTerminated  = "SESSION_TERMINATED"
	ErrCodeWriteConflict      = "WRITE_CONFLICT"
	ErrCodeInvocationFailed   = "MODEL_INVOCATION_FAILED"
	ErrCodeInvalidModelOutput = "INVALID_MODEL_OUTPUT"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// TurnRequest is the body of POST /v1/sessions/{session_id}/turns.
// TemplateID is required only on first contact, when the session does not
// exist yet. A blank utterance starts the conversation.
type TurnRequest struct {
	TemplateID string `json:"template_id,omitempty"`
	Utterance  string `json:"utterance"`
}

// TurnResponse is what a processed turn returns to the caller. Result is
// present only when Finished is true.
type TurnResponse struct {
	Messages []string         `json:"messages"`
	Finished bool             `json:"finished"`
	Result   *InterviewResult `json:"result,omitempty"`
}

// SessionResponse is the read view of a session.
type SessionResponse struct {
	ID           string           `json:"id"`
	TemplateID   string           `json:"template_id"`
	Status       Status           `json:"status"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	Cost         string           `json:"cost"`
	Result       *InterviewResult `json:"result,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewSessionResponse converts a stored session to its API view.
func NewSessionResponse(s Session) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		TemplateID:   s.TemplateID.String(),
		Status:       s.Status,
		InputTokens:  s.InputTokens,
		OutputTokens: s.OutputTokens,
		Cost:         s.Cost.String(),
		Result:       s.Result(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
