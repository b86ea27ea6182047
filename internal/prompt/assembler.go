// Package prompt renders the deterministic system instruction for an
// interview template and replays stored history into a model-ready message
// sequence.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kikite-ai/kikite/internal/llm"
	"github.com/kikite-ai/kikite/internal/model"
)

// maxAssistantMessagesPerTurn is the output-shape cap the instruction asks
// for and the turn processor enforces regardless.
const maxAssistantMessagesPerTurn = 2

// BuildState carries the turn-budget position and finalization mode into the
// rendered instruction.
type BuildState struct {
	// TurnsUsed counts user turns consumed so far, including the current one.
	TurnsUsed int
	// TurnBudget is the total user turns allowed before the interview is cut
	// short. Zero means unlimited.
	TurnBudget int
	// ForceFinalize demands an immediate summary, bypassing topic pacing.
	// Used by the stale-session sweep.
	ForceFinalize bool
}

// Exhausted reports whether the budget directive must be injected.
func (s BuildState) Exhausted() bool {
	return s.ForceFinalize || (s.TurnBudget > 0 && s.TurnsUsed >= s.TurnBudget)
}

// Assembler builds prompts for interview templates.
type Assembler struct {
	maxTurnsPerTopic int
}

// NewAssembler creates an assembler. maxTurnsPerTopic caps the back-and-forth
// per topic stated in the instruction (and sizes the turn budget).
func NewAssembler(maxTurnsPerTopic int) *Assembler {
	if maxTurnsPerTopic <= 0 {
		maxTurnsPerTopic = 3
	}
	return &Assembler{maxTurnsPerTopic: maxTurnsPerTopic}
}

// TurnBudget returns the total user turns a session of this template may
// consume: the per-topic allowance for each enabled topic plus slack for the
// opening exchange and the goodbye.
func (a *Assembler) TurnBudget(tpl model.Template) int {
	return a.maxTurnsPerTopic*len(tpl.EnabledTopics()) + 2
}

// Build renders the system instruction and converts prior history plus the
// incoming utterance into the model message sequence. A blank utterance adds
// no user entry (the "initialize conversation" call).
func (a *Assembler) Build(tpl model.Template, prior []model.Message, state BuildState, utterance string) (string, []llm.ChatMessage) {
	system := a.systemInstruction(tpl, state)

	msgs := make([]llm.ChatMessage, 0, len(prior)+1)
	for _, m := range prior {
		msgs = append(msgs, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	if strings.TrimSpace(utterance) != "" {
		msgs = append(msgs, llm.ChatMessage{Role: model.RoleUser, Content: utterance})
	}
	return system, msgs
}

func (a *Assembler) systemInstruction(tpl model.Template, state BuildState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, an interviewer conducting a structured interview about %s.\n",
		tpl.AgentName, tpl.SubjectName)
	if tpl.SubjectDescription != "" {
		fmt.Fprintf(&b, "Subject description: %s\n", tpl.SubjectDescription)
	}
	if tpl.SubjectContext != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", tpl.SubjectContext)
	}
	fmt.Fprintf(&b, "Respond only in %s, regardless of the language the respondent uses.\n", tpl.Language)

	b.WriteString("\nTopics to cover, in order:\n")
	for i, topic := range tpl.EnabledTopics() {
		fmt.Fprintf(&b, "%d. [%s] (%s) %s", i+1, topic.Key, topic.Approach, topic.Question)
		if topic.Description != nil && *topic.Description != "" {
			fmt.Fprintf(&b, ": %s", *topic.Description)
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- You ask the questions. If the respondent asks you something, politely redirect to the interview.\n")
	fmt.Fprintf(&b, "- Spend at most %d back-and-forth exchanges on a topic before moving to the next.\n", a.maxTurnsPerTopic)
	b.WriteString("- If an answer is vague, re-ask once in different words; after that, accept it and move on.\n")
	b.WriteString("- Topics marked (indirect) must never be asked directly. Probe them through hypothetical or analogous scenarios.\n")
	fmt.Fprintf(&b, "- Send at most %d messages per turn.\n", maxAssistantMessagesPerTurn)
	b.WriteString("- When every topic is covered, set finished to true and fill result with a summary and per-topic notes keyed by the topic keys above.\n")

	if tpl.WelcomeMessage != nil {
		b.WriteString("- The respondent has already been greeted separately. Do not open with your own greeting.\n")
	}
	if tpl.GoodbyeMessage != nil {
		b.WriteString("- A closing message is shown separately. Do not write your own farewell when finishing.\n")
	}

	if state.Exhausted() {
		b.WriteString("\nThe interview must end now. Set finished to true and populate result with a summary and notes for every topic you collected information on, even if some topics were not covered. Do not ask further questions.\n")
	}

	return b.String()
}
