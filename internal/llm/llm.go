// Package llm wraps the external language model behind a structured-output
// contract: given a system instruction and a message history, the model must
// return a JSON object matching the turn output schema.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/kikite-ai/kikite/internal/model"
)

// ErrInvocationFailed marks transport or provider-level failures. The turn
// aborts with no state written; the caller may retry the same utterance.
var ErrInvocationFailed = errors.New("llm: invocation failed")

// ErrInvalidOutput marks a response that decoded but violates the turn output
// schema. Surfaced distinctly from invocation failure for diagnosability and
// never silently coerced.
var ErrInvalidOutput = errors.New("llm: invalid model output")

// ChatMessage is one role-tagged entry sent to the model.
type ChatMessage struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

// TurnOutput is the validated structured result of one model invocation.
type TurnOutput struct {
	Messages []string
	Finished bool
	// Result is non-nil only when Finished is true.
	Result *model.InterviewResult
	Usage  model.TokenUsage
}

// Invoker executes one structured model call per turn. Implementations do not
// retry; retry policy belongs to the caller.
type Invoker interface {
	Invoke(ctx context.Context, system string, messages []ChatMessage) (TurnOutput, error)
}

// turnPayload is the raw decoded model output before validation.
type turnPayload struct {
	Messages []string       `json:"messages"`
	Finished bool           `json:"finished"`
	Result   *resultPayload `json:"result"`
}

type resultPayload struct {
	Summary    string             `json:"summary"`
	TopicNotes []topicNotePayload `json:"topic_notes"`
}

type topicNotePayload struct {
	Key   string   `json:"key"`
	Notes []string `json:"notes"`
}

// validate enforces the output contract the schema promises: a message list,
// and a result present exactly when the finished flag is set.
func (p turnPayload) validate() error {
	if p.Result != nil && !p.Finished {
		return fmt.Errorf("%w: result present without finished flag", ErrInvalidOutput)
	}
	if p.Finished && p.Result == nil {
		return fmt.Errorf("%w: finished without result", ErrInvalidOutput)
	}
	if p.Result != nil {
		for i, n := range p.Result.TopicNotes {
			if n.Key == "" {
				return fmt.Errorf("%w: topic note %d has no key", ErrInvalidOutput, i)
			}
		}
	}
	return nil
}

// toOutput converts a validated payload into the public TurnOutput shape.
func (p turnPayload) toOutput(usage model.TokenUsage) TurnOutput {
	out := TurnOutput{
		Messages: p.Messages,
		Finished: p.Finished,
		Usage:    usage,
	}
	if p.Result != nil {
		notes := make([]model.TopicNotes, len(p.Result.TopicNotes))
		for i, n := range p.Result.TopicNotes {
			notes[i] = model.TopicNotes{Key: n.Key, Notes: n.Notes}
		}
		out.Result = &model.InterviewResult{Summary: p.Result.Summary, TopicNotes: notes}
	}
	return out
}
