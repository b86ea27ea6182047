package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kikite-ai/kikite/internal/interview"
	"github.com/kikite-ai/kikite/internal/llm"
	"github.com/kikite-ai/kikite/internal/model"
	"github.com/kikite-ai/kikite/internal/storage"
)

// TurnProcessor is the processor surface the HTTP layer needs.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, sessionID string, templateID uuid.UUID, utterance string) (interview.TurnResult, error)
}

// SessionReader reads session and template state for the query endpoints.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (model.Session, error)
	CreateTemplate(ctx context.Context, tpl model.Template) (model.Template, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (model.Template, error)
	Ping(ctx context.Context) error
}

// Handlers carries the dependencies shared by all HTTP handlers.
type Handlers struct {
	store     SessionReader
	processor TurnProcessor
	logger    *slog.Logger

	version             string
	startedAt           time.Time
	maxRequestBodyBytes int64
}

// HandlersDeps lists the dependencies for NewHandlers.
type HandlersDeps struct {
	Store               SessionReader
	Processor           TurnProcessor
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		store:               d.Store,
		processor:           d.Processor,
		logger:              d.Logger,
		version:             d.Version,
		startedAt:           time.Now(),
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleCreateTemplate handles POST /v1/templates.
func (h *Handlers) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req model.Template
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	tpl, err := h.store.CreateTemplate(r.Context(), req)
	if err != nil {
		h.logger.Error("create template failed", "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to create template")
		return
	}
	writeJSON(w, r, http.StatusCreated, tpl)
}

// HandleGetTemplate handles GET /v1/templates/{template_id}.
func (h *Handlers) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("template_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid template id")
		return
	}

	tpl, err := h.store.GetTemplate(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "template not found")
		return
	}
	if err != nil {
		h.logger.Error("get template failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load template")
		return
	}
	writeJSON(w, r, http.StatusOK, tpl)
}

// HandleTurn handles POST /v1/sessions/{session_id}/turns, the turn
// processing entry point.
func (h *Handlers) HandleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "missing session id")
		return
	}

	var req model.TurnRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var templateID uuid.UUID
	if req.TemplateID != "" {
		var err error
		templateID, err = uuid.Parse(req.TemplateID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid template id")
			return
		}
	}

	res, err := h.processor.ProcessTurn(r.Context(), sessionID, templateID, req.Utterance)
	if err != nil {
		h.writeTurnError(w, r, sessionID, err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.TurnResponse{
		Messages: res.Messages,
		Finished: res.Finished,
		Result:   res.Result,
	})
}

// writeTurnError maps processor failures onto the API error surface. A turn
// on a finished session is not retryable and carries the stored terminal
// result; a write conflict is retryable with the same utterance.
func (h *Handlers) writeTurnError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	switch {
	case errors.Is(err, storage.ErrSessionTerminated):
		detail := model.TurnResponse{Messages: []string{}, Finished: true}
		if sess, gerr := h.store.GetSession(r.Context(), sessionID); gerr == nil {
			detail.Result = sess.Result()
		}
		writeErrorDetails(w, r, http.StatusConflict, model.ErrCodeSessionTerminated,
			"session is already finished", detail)
	case errors.Is(err, storage.ErrWriteConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeWriteConflict,
			"concurrent turn detected, retry the utterance")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session or template not found")
	case errors.Is(err, llm.ErrInvalidOutput):
		h.logger.Error("model returned invalid output", "session_id", sessionID, "error", err)
		writeError(w, r, http.StatusBadGateway, model.ErrCodeInvalidModelOutput,
			"model output failed validation")
	case errors.Is(err, llm.ErrInvocationFailed):
		h.logger.Error("model invocation failed", "session_id", sessionID, "error", err)
		writeError(w, r, http.StatusBadGateway, model.ErrCodeInvocationFailed,
			"model invocation failed, retry the utterance")
	default:
		h.logger.Error("turn processing failed", "session_id", sessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to process turn")
	}
}

// HandleGetSession handles GET /v1/sessions/{session_id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	sess, err := h.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("get session failed", "session_id", sessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load session")
		return
	}
	writeJSON(w, r, http.StatusOK, model.NewSessionResponse(sess))
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Data: data,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorDetails(w, r, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message, Details: details},
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// decodeJSON decodes a JSON request body into the target struct, enforcing
// the body-size cap when one is configured.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) error {
	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
