package interview

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikite-ai/kikite/internal/llm"
	"github.com/kikite-ai/kikite/internal/model"
	"github.com/kikite-ai/kikite/internal/pricing"
	"github.com/kikite-ai/kikite/internal/prompt"
	"github.com/kikite-ai/kikite/internal/storage"
)

type fakeStore struct {
	templates map[uuid.UUID]model.Template
	sessions  map[string]model.Session
	messages  map[string][]model.Message

	appends   []storage.AppendTurnInput
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		templates: map[uuid.UUID]model.Template{},
		sessions:  map[string]model.Session{},
		messages:  map[string][]model.Message{},
	}
}

func (s *fakeStore) GetTemplate(_ context.Context, id uuid.UUID) (model.Template, error) {
	tpl, ok := s.templates[id]
	if !ok {
		return model.Template{}, storage.ErrNotFound
	}
	return tpl, nil
}

func (s *fakeStore) GetSession(_ context.Context, id string) (model.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *fakeStore) CreateSession(_ context.Context, id string, templateID uuid.UUID) (model.Session, error) {
	sess := model.Session{ID: id, TemplateID: templateID, Status: model.StatusInProgress}
	s.sessions[id] = sess
	return sess, nil
}

func (s *fakeStore) GetMessages(_ context.Context, sessionID string) ([]model.Message, error) {
	return s.messages[sessionID], nil
}

func (s *fakeStore) AppendTurn(_ context.Context, in storage.AppendTurnInput) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appends = append(s.appends, in)
	s.messages[in.SessionID] = append(s.messages[in.SessionID], in.Messages...)
	sess := s.sessions[in.SessionID]
	if in.Finalize != nil {
		sess.Status = in.Finalize.Status
		sess.Summary = &in.Finalize.Summary
	}
	s.sessions[in.SessionID] = sess
	return nil
}

type fakeInvoker struct {
	out   llm.TurnOutput
	err   error
	calls int
	// captured from the last call
	system   string
	messages []llm.ChatMessage
}

func (f *fakeInvoker) Invoke(_ context.Context, system string, messages []llm.ChatMessage) (llm.TurnOutput, error) {
	f.calls++
	f.system = system
	f.messages = messages
	if f.err != nil {
		return llm.TurnOutput{}, f.err
	}
	return f.out, nil
}

func testTemplate() model.Template {
	return model.Template{
		ID:          uuid.New(),
		AgentName:   "Aki",
		Language:    "English",
		SubjectName: "commute habits",
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Topics: []model.Topic{
			{Key: "route", Question: "How do you get to work?", Approach: model.ApproachDirect, Enabled: true},
		},
	}
}

func newTestProcessor(store *fakeStore, inv *fakeInvoker) *Processor {
	table := pricing.NewTable(
		map[string]map[string]pricing.Price{
			"openai": {"gpt-4o-mini": {
				Input:  decimal.RequireFromString("1"),
				Output: decimal.RequireFromString("2"),
			}},
		},
		nil,
		pricing.Price{},
	)
	return NewProcessor(store, inv, prompt.NewAssembler(3), table, slog.Default())
}

func TestProcessTurnCreatesSessionLazily(t *testing.T) {
	store := newFakeStore()
	tpl := testTemplate()
	store.templates[tpl.ID] = tpl
	inv := &fakeInvoker{out: llm.TurnOutput{Messages: []string{"Welcome! How do you get to work?"}}}
	p := newTestProcessor(store, inv)

	res, err := p.ProcessTurn(context.Background(), "sess-1", tpl.ID, "")
	require.NoError(t, err)
	assert.False(t, res.Finished)
	assert.Nil(t, res.Result)
	require.Len(t, res.Messages, 1)

	// Blank utterance: the turn persists only the assistant output.
	require.Len(t, store.appends, 1)
	msgs := store.appends[0].Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
	assert.Equal(t, 0, store.appends[0].ExpectedSeq)
	assert.Contains(t, store.sessions, "sess-1")
}

func TestProcessTurnAppendsUserThenAssistant(t *testing.T) {
	store := newFakeStore()
	tpl := testTemplate()
	store.templates[tpl.ID] = tpl
	store.sessions["sess-1"] = model.Session{ID: "sess-1", TemplateID: tpl.ID, Status: model.StatusInProgress}
	store.messages["sess-1"] = []model.Message{
		{Role: model.RoleAssistant, Content: "How do you get to work?"},
	}
	inv := &fakeInvoker{out: llm.TurnOutput{
		Messages: []string{"Interesting.", "How long does that take?"},
		Usage:    model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 500_000},
	}}
	p := newTestProcessor(store, inv)

	res, err := p.ProcessTurn(context.Background(), "sess-1", uuid.Nil, "I cycle.")
	require.NoError(t, err)
	assert.Len(t, res.Messages, 2)

	require.Len(t, store.appends, 1)
	in := store.appends[0]
	assert.Equal(t, 1, in.ExpectedSeq, "expected seq reflects history read before the model call")
	require.Len(t, in.Messages, 3)
	assert.Equal(t, model.RoleUser, in.Messages[0].Role)
	assert.Equal(t, "I cycle.", in.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, in.Messages[1].Role)

	// 1M input at $1/M plus 0.5M output at $2/M.
	assert.True(t, in.CostDelta.Equal(decimal.RequireFromString("2")),
		"cost delta %s should equal 2", in.CostDelta)

	// The model saw the full history plus the new utterance.
	require.Len(t, inv.messages, 2)
	assert.Equal(t, model.RoleUser, inv.messages[1].Role)
}

func TestProcessTurnTruncatesOversizedOutput(t *testing.T) {
	store := newFakeStore()
	tpl := testTemplate()
	store.templates[tpl.ID] = tpl
	inv := &fakeInvoker{out: llm.TurnOutput{Messages: []string{"one", "two", "three", "four"}}}
	p := newTestProcessor(store, inv)

	res, err := p.ProcessTurn(context.Background(), "sess-1", tpl.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, res.Messages)
	require.Len(t, store.appends, 1)
	assert.Len(t, store.appends[0].Messages, 2)
}

func TestProcessTurnFinishedFinalizesCompleted(t *testing.T) {
	store := newFakeStore()
	tpl := testTemplate()
	store.templates[tpl.ID] = tpl
	store.sessions["sess-1"] = model.Session{ID: "sess-1", TemplateID: tpl.ID, Status: model.StatusInProgress}
	inv := &fakeInvoker{out: llm.TurnOutput{
		Messages: []string{"Thanks, that's everything!"},
		Finished: true,
		Result: &model.InterviewResult{
			Summary:    "Cyclist with a short commute.",
			TopicNotes: []model.TopicNotes{{Key: "route", Notes: []string{"cycles daily"}}},
		},
	}}
	p := newTestProcessor(store, inv)

	res, err := p.ProcessTurn(context.Background(), "sess-1", uuid.Nil, "No, that covers it.")
	require.NoError(t, err)
	assert.True(t, res.Finished)
	require.NotNil(t, res.Result)
	assert.Equal(t, "Cyclist with a short commute.", res.Result.Summary)

	require.Len(t, store.appends, 1)
	fin := store.appends[0].Finalize
	require.NotNil(t, fin)
	assert.Equal(t, model.StatusCompleted, fin.Status)
	assert.Equal(t, "Cyclist with a short commute.", fin.Summary)
}

func TestProcessTurnRejectsTerminalWithoutInvoking(t *testing.T) {
	store := newFakeStore()
	tpl := testTemplate()
	store.templates[tpl.ID] = tpl
	summary := "done"
	store.sessions["sess-1"] = model.Session{
		ID: "sess-1", TemplateID: tpl.ID, Status: model.StatusCompleted, Summary: &summary,
	}
	inv := &fakeInvoker{}
	p := newTestProcessor(store, inv)

	_, err := p.ProcessTurn(context.Background(), "sess-1", uuid.Nil, "hello again")
	assert.ErrorIs(t, err, storage.ErrSessionTerminated)
	assert.Zero(t, inv.calls, "terminal sessions must not trigger model calls")
	assert.Empty(t, store.appends)
}

func TestProcessTurnInvocationFailureWritesNothing(t *testing.T) {
	store := newFakeStore()
	tpl := testTemplate()
	store.templates[tpl.ID] = tpl
	store.sessions["sess-1"] = model.Session{ID: "sess-1", TemplateID: tpl.ID, Status: model.StatusInProgress}
	inv := &fakeInvoker{err: llm.ErrInvocationFailed}
	p := newTestProcessor(store, inv)

	_, err := p.ProcessTurn(context.Background(), "sess-1", uuid.Nil, "I cycle.")
	assert.ErrorIs(t, err, llm.ErrInvocationFailed)
	assert.Empty(t, store.appends, "a failed invocation must leave no trace in storage")
}

func TestProcessTurnSurfacesWriteConflict(t *testing.T) {
	store := newFakeStore()
	tpl := testTemplate()
	store.templates[tpl.ID] = tpl
	store.sessions["sess-1"] = model.Session{ID: "sess-1", TemplateID: tpl.ID, Status: model.StatusInProgress}
	store.appendErr = storage.ErrWriteConflict
	inv := &fakeInvoker{out: llm.TurnOutput{Messages: []string{"next question"}}}
	p := newTestProcessor(store, inv)

	_, err := p.ProcessTurn(context.Background(), "sess-1", uuid.Nil, "answer")
	assert.ErrorIs(t, err, storage.ErrWriteConflict)
}

func TestForceFinalizeClosesPartiallyCompleted(t *testing.T) {
	store := newFakeStore()
	tpl := testTemplate()
	store.templates[tpl.ID] = tpl
	store.sessions["sess-1"] = model.Session{ID: "sess-1", TemplateID: tpl.ID, Status: model.StatusInProgress}
	store.messages["sess-1"] = []model.Message{
		{Role: model.RoleAssistant, Content: "How do you get to work?"},
		{Role: model.RoleUser, Content: "I cycle."},
	}
	inv := &fakeInvoker{out: llm.TurnOutput{
		Messages: []string{"Thanks for your time."},
		Finished: true,
		Result:   &model.InterviewResult{Summary: "Partial: cyclist.", TopicNotes: []model.TopicNotes{}},
	}}
	p := newTestProcessor(store, inv)

	res, err := p.ForceFinalize(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.True(t, res.Finished)

	require.Len(t, store.appends, 1)
	fin := store.appends[0].Finalize
	require.NotNil(t, fin)
	assert.Equal(t, model.StatusPartiallyCompleted, fin.Status,
		"forced finalization never reports completed")
	assert.Contains(t, inv.system, "must end now")
}

func TestForceFinalizeClosesEvenWhenModelDoesNot(t *testing.T) {
	store := newFakeStore()
	tpl := testTemplate()
	store.templates[tpl.ID] = tpl
	store.sessions["sess-1"] = model.Session{ID: "sess-1", TemplateID: tpl.ID, Status: model.StatusInProgress}
	// The model ignores the wrap-up directive and keeps asking questions.
	inv := &fakeInvoker{out: llm.TurnOutput{Messages: []string{"And how long does that take?"}}}
	p := newTestProcessor(store, inv)

	res, err := p.ForceFinalize(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.True(t, res.Finished)
	require.NotNil(t, res.Result)
	assert.Empty(t, res.Result.Summary)

	require.Len(t, store.appends, 1)
	fin := store.appends[0].Finalize
	require.NotNil(t, fin)
	assert.Equal(t, model.StatusPartiallyCompleted, fin.Status)
}

func TestForceFinalizeUnknownSession(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(store, &fakeInvoker{})

	_, err := p.ForceFinalize(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessTurnUnknownTemplate(t *testing.T) {
	store := newFakeStore()
	inv := &fakeInvoker{}
	p := newTestProcessor(store, inv)

	_, err := p.ProcessTurn(context.Background(), "sess-1", uuid.New(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Zero(t, inv.calls)
}
