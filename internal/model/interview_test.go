package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTemplate() Template {
	return Template{
		AgentName: "Aki",
		Language:  "English",
		Topics: []Topic{
			{Key: "background", Question: "Tell me about your background.", Approach: ApproachDirect, Enabled: true},
			{Key: "motivation", Question: "Why this role?", Approach: ApproachIndirect, Enabled: true},
		},
	}
}

func TestTemplateValidate(t *testing.T) {
	require.NoError(t, validTemplate().Validate())

	tests := []struct {
		name   string
		mutate func(*Template)
	}{
		{"missing agent name", func(tpl *Template) { tpl.AgentName = " " }},
		{"missing language", func(tpl *Template) { tpl.Language = "" }},
		{"empty topic key", func(tpl *Template) { tpl.Topics[0].Key = "" }},
		{"duplicate topic key", func(tpl *Template) { tpl.Topics[1].Key = tpl.Topics[0].Key }},
		{"unknown approach", func(tpl *Template) { tpl.Topics[0].Approach = "sideways" }},
		{"topic without question", func(tpl *Template) { tpl.Topics[0].Question = "" }},
		{"no enabled topics", func(tpl *Template) {
			for i := range tpl.Topics {
				tpl.Topics[i].Enabled = false
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(&tpl)
			assert.Error(t, tpl.Validate())
		})
	}
}

func TestEnabledTopicsPreservesOrder(t *testing.T) {
	tpl := validTemplate()
	tpl.Topics = append(tpl.Topics, Topic{Key: "skipped", Question: "n/a", Approach: ApproachDirect, Enabled: false})

	topics := tpl.EnabledTopics()
	require.Len(t, topics, 2)
	assert.Equal(t, "background", topics[0].Key)
	assert.Equal(t, "motivation", topics[1].Key)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusPartiallyCompleted.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}

func TestSessionResultNilWhileInProgress(t *testing.T) {
	s := Session{Status: StatusInProgress}
	assert.Nil(t, s.Result())

	summary := "collected everything"
	s.Status = StatusCompleted
	s.Summary = &summary
	s.TopicNotes = []TopicNotes{{Key: "background", Notes: []string{"ten years in ops"}}}

	res := s.Result()
	require.NotNil(t, res)
	assert.Equal(t, summary, res.Summary)
	require.Len(t, res.TopicNotes, 1)
	assert.Equal(t, "background", res.TopicNotes[0].Key)
}
