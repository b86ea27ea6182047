// Package model defines the domain entities shared across the interview
// pipeline: templates, sessions, messages, and terminal results.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Approach controls how a topic is raised during the interview.
type Approach string

const (
	// ApproachDirect asks the topic question as written.
	ApproachDirect Approach = "direct"
	// ApproachIndirect probes the topic obliquely through hypothetical or
	// analogous scenarios, never asking the question verbatim.
	ApproachIndirect Approach = "indirect"
)

// Topic is a unit of information the interview must collect. Keys are stable
// once created: finalized session notes reference them.
type Topic struct {
	Key         string   `json:"key"`
	Question    string   `json:"question"`
	Description *string  `json:"description,omitempty"`
	Approach    Approach `json:"approach"`
	Enabled     bool     `json:"enabled"`
}

// Template is an interview definition authored by an administrator.
// It is immutable for the lifetime of any session that references it.
type Template struct {
	ID                 uuid.UUID `json:"id"`
	AgentName          string    `json:"agent_name"`
	Language           string    `json:"language"`
	SubjectName        string    `json:"subject_name"`
	SubjectDescription string    `json:"subject_description,omitempty"`
	SubjectContext     string    `json:"subject_context,omitempty"`
	Topics             []Topic   `json:"topics"`
	WelcomeMessage     *string   `json:"welcome_message,omitempty"`
	GoodbyeMessage     *string   `json:"goodbye_message,omitempty"`
	// Provider and Model select the pricing entry and the upstream model.
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// EnabledTopics returns the topics that participate in the interview,
// preserving template order.
func (t Template) EnabledTopics() []Topic {
	out := make([]Topic, 0, len(t.Topics))
	for _, topic := range t.Topics {
		if topic.Enabled {
			out = append(out, topic)
		}
	}
	return out
}

// Validate checks template invariants: at least one enabled topic, unique
// non-empty topic keys, and a known approach per topic.
func (t Template) Validate() error {
	if strings.TrimSpace(t.AgentName) == "" {
		return fmt.Errorf("model: template agent name is required")
	}
	if strings.TrimSpace(t.Language) == "" {
		return fmt.Errorf("model: template language is required")
	}
	seen := make(map[string]bool, len(t.Topics))
	enabled := 0
	for _, topic := range t.Topics {
		key := strings.TrimSpace(topic.Key)
		if key == "" {
			return fmt.Errorf("model: topic key is required")
		}
		if seen[key] {
			return fmt.Errorf("model: duplicate topic key %q", key)
		}
		seen[key] = true
		if topic.Approach != ApproachDirect && topic.Approach != ApproachIndirect {
			return fmt.Errorf("model: topic %q has unknown approach %q", key, topic.Approach)
		}
		if strings.TrimSpace(topic.Question) == "" {
			return fmt.Errorf("model: topic %q has no question", key)
		}
		if topic.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("model: template needs at least one enabled topic")
	}
	return nil
}

// Role tags a message log entry. The set is closed: serialization boundaries
// must handle both values exhaustively.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's ordered message log.
type Message struct {
	Role    Role   `json:"type"`
	Content string `json:"content"`
}

// Status is the session lifecycle state. All states except StatusInProgress
// are terminal and absorbing.
type Status string

const (
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusCanceled           Status = "canceled"
)

// Terminal reports whether the status is absorbing. Terminal sessions reject
// further turns.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartiallyCompleted || s == StatusCanceled
}

// TopicNotes holds the notes collected for one topic, correlated by key.
type TopicNotes struct {
	Key   string   `json:"key"`
	Notes []string `json:"notes"`
}

// InterviewResult is the structured payload produced when an interview ends.
type InterviewResult struct {
	Summary    string       `json:"summary"`
	TopicNotes []TopicNotes `json:"topic_notes"`
}

// Session is one respondent's interview attempt. It is created lazily on
// first contact and mutated once per turn by the turn processor.
type Session struct {
	ID         string
	TemplateID uuid.UUID
	Status     Status
	Summary    *string
	TopicNotes []TopicNotes
	// Running totals. Each turn adds a non-negative delta; they are never
	// reset or overwritten.
	InputTokens  int64
	OutputTokens int64
	Cost         decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Result returns the terminal result, or nil while the session is in progress.
// The storage layer guarantees Summary is non-nil iff the status is terminal.
func (s Session) Result() *InterviewResult {
	if s.Summary == nil {
		return nil
	}
	return &InterviewResult{Summary: *s.Summary, TopicNotes: s.TopicNotes}
}

// TokenUsage is the token count reported by one model invocation.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}
