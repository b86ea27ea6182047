package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikite-ai/kikite/internal/model"
)

func TestResolveFallbackChain(t *testing.T) {
	table := NewTable(
		map[string]map[string]Price{
			"openai": {"gpt-4o": {Input: decimal.NewFromInt(2), Output: decimal.NewFromInt(8)}},
		},
		map[string]Price{
			"openai": {Input: decimal.NewFromInt(3), Output: decimal.NewFromInt(9)},
		},
		Price{Input: decimal.NewFromInt(5), Output: decimal.NewFromInt(10)},
	)

	// Exact match.
	p := table.Resolve("openai", "gpt-4o")
	assert.True(t, p.Input.Equal(decimal.NewFromInt(2)))

	// Unknown model falls back to provider default.
	p = table.Resolve("openai", "gpt-99")
	assert.True(t, p.Input.Equal(decimal.NewFromInt(3)))

	// Unknown provider falls back to the global default.
	p = table.Resolve("acme", "whatever")
	assert.True(t, p.Input.Equal(decimal.NewFromInt(5)))
}

func TestCostIsExact(t *testing.T) {
	// 800 input tokens at $1/M plus 400 output tokens at $2/M.
	p := Price{Input: decimal.NewFromInt(1), Output: decimal.NewFromInt(2)}
	cost := p.Cost(model.TokenUsage{InputTokens: 800, OutputTokens: 400})

	want := decimal.RequireFromString("0.0016")
	assert.True(t, cost.Equal(want), "got %s want %s", cost, want)
}

func TestCostZeroUsage(t *testing.T) {
	p := Default().Resolve("openai", "gpt-4o-mini")
	assert.True(t, p.Cost(model.TokenUsage{}).IsZero())
}

func TestParseJSON(t *testing.T) {
	doc := []byte(`{
		"openai": {
			"gpt-4o": {"input": "2.50", "output": "10.00"},
			"default": {"input": "1.00", "output": "2.00"}
		}
	}`)

	table, err := ParseJSON(doc)
	require.NoError(t, err)

	p := table.Resolve("openai", "gpt-4o")
	assert.True(t, p.Output.Equal(decimal.RequireFromString("10.00")))

	// Provider "default" entry backs unknown models.
	p = table.Resolve("openai", "unlisted")
	assert.True(t, p.Input.Equal(decimal.NewFromInt(1)))
}

func TestParseJSONRejectsBadPrice(t *testing.T) {
	_, err := ParseJSON([]byte(`{"openai": {"gpt-4o": {"input": "cheap", "output": "1"}}}`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`not json`))
	assert.Error(t, err)
}
