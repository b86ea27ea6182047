// Package pricing maps a (provider, model) pair to per-token prices and
// converts token usage into monetary cost.
package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kikite-ai/kikite/internal/model"
)

// tokensPerUnit is the denomination prices are quoted in (USD per million tokens).
var tokensPerUnit = decimal.NewFromInt(1_000_000)

// Price holds the input and output price per million tokens for one model.
type Price struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// Cost returns the monetary cost of the given usage at this price.
func (p Price) Cost(usage model.TokenUsage) decimal.Decimal {
	in := decimal.NewFromInt(usage.InputTokens).Mul(p.Input).Div(tokensPerUnit)
	out := decimal.NewFromInt(usage.OutputTokens).Mul(p.Output).Div(tokensPerUnit)
	return in.Add(out)
}

// Table resolves prices with a provider-default and global-default fallback
// chain. An unconfigured (provider, model) pair resolves to the nearest
// default rather than failing: sessions must keep accumulating cost even when
// operators add models faster than pricing entries.
type Table struct {
	models   map[string]map[string]Price // provider -> model -> price
	defaults map[string]Price            // provider -> default price
	fallback Price
}

// NewTable builds a table from explicit entries. Keys of models and defaults
// are provider names; the empty-string model key inside models is ignored.
func NewTable(models map[string]map[string]Price, defaults map[string]Price, fallback Price) *Table {
	if models == nil {
		models = map[string]map[string]Price{}
	}
	if defaults == nil {
		defaults = map[string]Price{}
	}
	return &Table{models: models, defaults: defaults, fallback: fallback}
}

// Default returns the built-in table with prices for common hosted models.
func Default() *Table {
	usd := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return NewTable(
		map[string]map[string]Price{
			"openai": {
				"gpt-4o":      {Input: usd("2.50"), Output: usd("10.00")},
				"gpt-4o-mini": {Input: usd("0.15"), Output: usd("0.60")},
				"gpt-4.1":     {Input: usd("2.00"), Output: usd("8.00")},
			},
			"anthropic": {
				"claude-sonnet-4-20250514": {Input: usd("3.00"), Output: usd("15.00")},
				"claude-3-5-haiku-latest":  {Input: usd("0.80"), Output: usd("4.00")},
			},
		},
		map[string]Price{
			"openai":    {Input: usd("2.50"), Output: usd("10.00")},
			"anthropic": {Input: usd("3.00"), Output: usd("15.00")},
		},
		Price{Input: usd("2.50"), Output: usd("10.00")},
	)
}

// Resolve returns the price for the given provider and model, falling back to
// the provider default, then the global default. The fallback is silent by
// contract; callers that care can compare against Table defaults.
func (t *Table) Resolve(provider, modelName string) Price {
	if byModel, ok := t.models[provider]; ok {
		if p, ok := byModel[modelName]; ok {
			return p
		}
	}
	if p, ok := t.defaults[provider]; ok {
		return p
	}
	return t.fallback
}

// fileEntry is the JSON shape of one model's prices in an override file.
// Prices are decimal strings to avoid float drift, e.g. {"input": "2.50", "output": "10.00"}.
type fileEntry struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ParseJSON builds a table from an override document of the shape
// {"provider": {"model": {"input": "...", "output": "..."}}}. The per-provider
// "default" model key, when present, becomes that provider's fallback price.
// The global fallback is taken from the built-in table.
func ParseJSON(data []byte) (*Table, error) {
	var raw map[string]map[string]fileEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("pricing: parse overrides: %w", err)
	}

	models := make(map[string]map[string]Price, len(raw))
	defaults := make(map[string]Price)
	for provider, byModel := range raw {
		for name, entry := range byModel {
			in, err := decimal.NewFromString(entry.Input)
			if err != nil {
				return nil, fmt.Errorf("pricing: %s/%s input price: %w", provider, name, err)
			}
			out, err := decimal.NewFromString(entry.Output)
			if err != nil {
				return nil, fmt.Errorf("pricing: %s/%s output price: %w", provider, name, err)
			}
			p := Price{Input: in, Output: out}
			if name == "default" {
				defaults[provider] = p
				continue
			}
			if models[provider] == nil {
				models[provider] = map[string]Price{}
			}
			models[provider][name] = p
		}
	}
	return NewTable(models, defaults, Default().fallback), nil
}
