// Package interview implements the turn processor, the state machine that
// advances a session by exactly one exchange: persist what the respondent
// said, obtain the model's next move, and commit both atomically.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kikite-ai/kikite/internal/llm"
	"github.com/kikite-ai/kikite/internal/model"
	"github.com/kikite-ai/kikite/internal/pricing"
	"github.com/kikite-ai/kikite/internal/prompt"
	"github.com/kikite-ai/kikite/internal/storage"
	"github.com/kikite-ai/kikite/internal/telemetry"
)

// maxTurnMessages caps how many assistant messages a single turn may surface.
// The instruction asks the model to stay within it, but the cap is enforced
// here regardless of what comes back.
const maxTurnMessages = 2

// Store is the subset of the storage layer the processor depends on.
type Store interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (model.Template, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	CreateSession(ctx context.Context, id string, templateID uuid.UUID) (model.Session, error)
	GetMessages(ctx context.Context, sessionID string) ([]model.Message, error)
	AppendTurn(ctx context.Context, in storage.AppendTurnInput) error
}

// TurnResult is what one processed turn hands back to the caller.
type TurnResult struct {
	// Messages the interviewer should show the respondent, at most two.
	Messages []string
	Finished bool
	// Result is set only when Finished is true.
	Result *model.InterviewResult
}

// Processor advances interview sessions one turn at a time. All writes for a
// turn land in a single storage transaction, so a crashed turn leaves the
// session exactly where it was.
type Processor struct {
	store     Store
	invoker   llm.Invoker
	assembler *prompt.Assembler
	prices    *pricing.Table
	logger    *slog.Logger

	turnDuration metric.Float64Histogram
	tokensUsed   metric.Int64Counter
}

// NewProcessor creates a turn processor.
func NewProcessor(store Store, invoker llm.Invoker, assembler *prompt.Assembler, prices *pricing.Table, logger *slog.Logger) *Processor {
	meter := telemetry.Meter("kikite/interview")
	dur, _ := meter.Float64Histogram("kikite.turn.duration",
		metric.WithDescription("Time to process one interview turn (ms)"),
		metric.WithUnit("ms"),
	)
	tokens, _ := meter.Int64Counter("kikite.turn.tokens",
		metric.WithDescription("Tokens consumed by model invocations"),
	)
	return &Processor{
		store:        store,
		invoker:      invoker,
		assembler:    assembler,
		prices:       prices,
		logger:       logger,
		turnDuration: dur,
		tokensUsed:   tokens,
	}
}

// ProcessTurn handles one respondent utterance. The session is created lazily
// on first contact; a blank utterance starts the conversation without adding
// a user entry. Terminal sessions are rejected with
// storage.ErrSessionTerminated before any model call.
func (p *Processor) ProcessTurn(ctx context.Context, sessionID string, templateID uuid.UUID, utterance string) (TurnResult, error) {
	return p.processTurn(ctx, sessionID, templateID, utterance, false)
}

// ForceFinalize drives a session straight to a summary, used by the
// stale-session sweep. The model is asked to wrap up immediately; if it
// neglects to declare itself finished, the session is closed as
// partially_completed with an empty result anyway.
func (p *Processor) ForceFinalize(ctx context.Context, sessionID string) (TurnResult, error) {
	return p.processTurn(ctx, sessionID, uuid.Nil, "", true)
}

func (p *Processor) processTurn(ctx context.Context, sessionID string, templateID uuid.UUID, utterance string, force bool) (TurnResult, error) {
	start := time.Now()

	sess, err := p.store.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if force {
			return TurnResult{}, fmt.Errorf("interview: finalize session %s: %w", sessionID, err)
		}
		sess, err = p.store.CreateSession(ctx, sessionID, templateID)
		if err != nil {
			return TurnResult{}, fmt.Errorf("interview: create session: %w", err)
		}
	case err != nil:
		return TurnResult{}, fmt.Errorf("interview: load session: %w", err)
	}
	if sess.Status.Terminal() {
		return TurnResult{}, storage.ErrSessionTerminated
	}

	tpl, err := p.store.GetTemplate(ctx, sess.TemplateID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("interview: load template: %w", err)
	}

	prior, err := p.store.GetMessages(ctx, sessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("interview: load history: %w", err)
	}

	state := prompt.BuildState{
		TurnsUsed:     countUserTurns(prior, utterance),
		TurnBudget:    p.assembler.TurnBudget(tpl),
		ForceFinalize: force,
	}
	system, msgs := p.assembler.Build(tpl, prior, state, utterance)

	out, err := p.invoker.Invoke(ctx, system, msgs)
	if err != nil {
		// Nothing was written; the respondent can simply retry the turn.
		return TurnResult{}, fmt.Errorf("interview: session %s: %w", sessionID, err)
	}
	if len(out.Messages) > maxTurnMessages {
		p.logger.Warn("truncating oversized turn output",
			"session_id", sessionID, "messages", len(out.Messages))
		out.Messages = out.Messages[:maxTurnMessages]
	}

	finished := out.Finished || force
	result := out.Result
	if finished && result == nil {
		// The sweep path closes the session even when the model ignored the
		// wrap-up directive.
		result = &model.InterviewResult{TopicNotes: []model.TopicNotes{}}
	}

	input := storage.AppendTurnInput{
		SessionID:   sessionID,
		ExpectedSeq: len(prior),
		Messages:    makeTurnMessages(utterance, out.Messages),
		Usage:       out.Usage,
		CostDelta:   p.prices.Resolve(tpl.Provider, tpl.Model).Cost(out.Usage),
	}
	if finished {
		status := model.StatusCompleted
		if force {
			status = model.StatusPartiallyCompleted
		}
		input.Finalize = &storage.Finalization{
			Status:     status,
			Summary:    result.Summary,
			TopicNotes: result.TopicNotes,
		}
	}
	if err := p.store.AppendTurn(ctx, input); err != nil {
		return TurnResult{}, fmt.Errorf("interview: commit turn: %w", err)
	}

	p.turnDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Bool("finished", finished)))
	p.tokensUsed.Add(ctx, out.Usage.InputTokens+out.Usage.OutputTokens)
	p.logger.Info("turn processed",
		"session_id", sessionID,
		"template_id", tpl.ID,
		"finished", finished,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
	)

	res := TurnResult{Messages: out.Messages, Finished: finished}
	if finished {
		res.Result = result
	}
	return res, nil
}

// makeTurnMessages orders this turn's persisted entries: the respondent's
// utterance (when present) followed by the assistant output.
func makeTurnMessages(utterance string, assistant []string) []model.Message {
	out := make([]model.Message, 0, len(assistant)+1)
	if strings.TrimSpace(utterance) != "" {
		out = append(out, model.Message{Role: model.RoleUser, Content: utterance})
	}
	for _, m := range assistant {
		out = append(out, model.Message{Role: model.RoleAssistant, Content: m})
	}
	return out
}

func countUserTurns(prior []model.Message, utterance string) int {
	n := 0
	for _, m := range prior {
		if m.Role == model.RoleUser {
			n++
		}
	}
	if strings.TrimSpace(utterance) != "" {
		n++
	}
	return n
}
