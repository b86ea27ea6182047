package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kikite-ai/kikite/internal/model"
)

// sessionColumns lists every sessions column in scan order. cost is cast to
// text so it round-trips through decimal without float conversion.
const sessionColumns = `id, template_id, status, summary, topic_notes,
	input_tokens, output_tokens, cost::text, created_at, updated_at`

// CreateSession inserts a fresh in-progress session for the given template.
func (db *DB) CreateSession(ctx context.Context, id string, templateID uuid.UUID) (model.Session, error) {
	now := time.Now().UTC()
	sess := model.Session{
		ID:         id,
		TemplateID: templateID,
		Status:     model.StatusInProgress,
		Cost:       decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (id, template_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.TemplateID, string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: create session: %w", err)
	}
	return sess, nil
}

// GetSession retrieves a session by id.
func (db *DB) GetSession(ctx context.Context, id string) (model.Session, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return sess, nil
}

// GetMessages returns the session's message log in insertion order. An
// unknown session yields an empty log.
func (db *DB) GetMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT role, content FROM messages WHERE session_id = $1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var role string
		if err := rows.Scan(&role, &m.Content); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		m.Role = model.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// HasUserMessages reports whether the session log contains at least one
// user-role entry. Sessions the respondent never answered are reaped without
// a model call.
func (db *DB) HasUserMessages(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE session_id = $1 AND role = 'user')`,
		sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: has user messages: %w", err)
	}
	return exists, nil
}

// Finalization sets the terminal fields written atomically with the last
// message append.
type Finalization struct {
	Status     model.Status
	Summary    string
	TopicNotes []model.TopicNotes
}

// AppendTurnInput describes one turn's worth of writes.
type AppendTurnInput struct {
	SessionID string
	// ExpectedSeq is the number of messages the caller observed before
	// invoking the model. A mismatch at write time means a concurrent turn
	// got there first and the append is rejected with ErrWriteConflict.
	ExpectedSeq int
	Messages    []model.Message
	Usage       model.TokenUsage
	CostDelta   decimal.Decimal
	// Finalize, when non-nil, transitions the session to a terminal status in
	// the same transaction.
	Finalize *Finalization
}

// AppendTurn applies one turn atomically: it row-locks the session, rejects
// terminal sessions and concurrent appends, inserts the new messages at the
// tail, accumulates token and cost counters, and optionally finalizes. Either
// everything in the turn is persisted or nothing is.
func (db *DB) AppendTurn(ctx context.Context, in AppendTurnInput) error {
	if in.Finalize != nil && !in.Finalize.Status.Terminal() {
		return fmt.Errorf("storage: finalize status %q is not terminal", in.Finalize.Status)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the session row for the duration of the turn write. Concurrent
	// AppendTurn calls for the same session serialize here.
	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, in.SessionID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: session %s: %w", in.SessionID, ErrNotFound)
		}
		return fmt.Errorf("storage: lock session: %w", err)
	}
	if model.Status(status).Terminal() {
		return fmt.Errorf("storage: session %s: %w", in.SessionID, ErrSessionTerminated)
	}

	var tail int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = $1`, in.SessionID,
	).Scan(&tail)
	if err != nil {
		return fmt.Errorf("storage: read message tail: %w", err)
	}
	if tail != in.ExpectedSeq {
		return fmt.Errorf("storage: session %s: expected tail %d, found %d: %w",
			in.SessionID, in.ExpectedSeq, tail, ErrWriteConflict)
	}

	now := time.Now().UTC()
	for i, msg := range in.Messages {
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (session_id, seq, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			in.SessionID, tail+i+1, string(msg.Role), msg.Content, now,
		); err != nil {
			return fmt.Errorf("storage: insert message: %w", err)
		}
	}

	// Counters accumulate; they are never overwritten.
	if in.Finalize == nil {
		_, err = tx.Exec(ctx,
			`UPDATE sessions
			 SET input_tokens = input_tokens + $2,
			     output_tokens = output_tokens + $3,
			     cost = cost + $4::numeric,
			     updated_at = $5
			 WHERE id = $1`,
			in.SessionID, in.Usage.InputTokens, in.Usage.OutputTokens,
			in.CostDelta.String(), now,
		)
	} else {
		var notes []byte
		notes, err = json.Marshal(notesOrEmpty(in.Finalize.TopicNotes))
		if err != nil {
			return fmt.Errorf("storage: marshal topic notes: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE sessions
			 SET input_tokens = input_tokens + $2,
			     output_tokens = output_tokens + $3,
			     cost = cost + $4::numeric,
			     status = $5,
			     summary = $6,
			     topic_notes = $7,
			     updated_at = $8
			 WHERE id = $1`,
			in.SessionID, in.Usage.InputTokens, in.Usage.OutputTokens,
			in.CostDelta.String(), string(in.Finalize.Status),
			in.Finalize.Summary, notes, now,
		)
	}
	if err != nil {
		return fmt.Errorf("storage: update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit turn: %w", err)
	}
	return nil
}

// CancelSession transitions an in-progress session directly to canceled with
// an empty result, preserving the terminal-iff-result invariant. Used for
// stale sessions the respondent never answered.
func (db *DB) CancelSession(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE sessions
		 SET status = $2, summary = '', topic_notes = '[]'::jsonb, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, string(model.StatusCanceled), time.Now().UTC(), string(model.StatusInProgress),
	)
	if err != nil {
		return fmt.Errorf("storage: cancel session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already terminal; disambiguate for the caller.
		if _, gerr := db.GetSession(ctx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("storage: session %s: %w", id, ErrSessionTerminated)
	}
	return nil
}

// ListStaleSessions returns in-progress sessions whose last update is older
// than cutoff, oldest first.
func (db *DB) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]model.Session, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC`,
		string(model.StatusInProgress), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan stale session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// scanSession reads one sessions row in sessionColumns order.
func scanSession(row pgx.Row) (model.Session, error) {
	var sess model.Session
	var status, cost string
	var notes []byte
	if err := row.Scan(
		&sess.ID, &sess.TemplateID, &status, &sess.Summary, &notes,
		&sess.InputTokens, &sess.OutputTokens, &cost, &sess.CreatedAt, &sess.UpdatedAt,
	); err != nil {
		return model.Session{}, err
	}
	sess.Status = model.Status(status)

	parsed, err := decimal.NewFromString(cost)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse cost %q: %w", cost, err)
	}
	sess.Cost = parsed

	if notes != nil {
		if err := json.Unmarshal(notes, &sess.TopicNotes); err != nil {
			return model.Session{}, fmt.Errorf("unmarshal topic notes: %w", err)
		}
	}
	return sess, nil
}

// notesOrEmpty keeps finalized topic notes non-null in the database so the
// terminal-iff-result invariant holds even for empty interviews.
func notesOrEmpty(notes []model.TopicNotes) []model.TopicNotes {
	if notes == nil {
		return []model.TopicNotes{}
	}
	return notes
}
