package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kikite-ai/kikite/internal/model"
)

// OpenAIInvoker calls an OpenAI-compatible chat completions endpoint with a
// strict json_schema response format. One request/response exchange per turn,
// no streaming, no retries.
type OpenAIInvoker struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIInvoker creates an invoker against the given endpoint. modelName
// is the upstream model identifier, e.g. "gpt-4o-mini". An empty apiKey skips
// the Authorization header (local OpenAI-compatible servers).
func NewOpenAIInvoker(baseURL, apiKey, modelName string, timeout time.Duration) *OpenAIInvoker {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAIInvoker{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   modelName,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string  `json:"name"`
	Strict bool    `json:"strict"`
	Schema *Schema `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Invoke sends the assembled prompt and returns the validated structured turn
// output plus token usage.
func (c *OpenAIInvoker) Invoke(ctx context.Context, system string, messages []ChatMessage) (TurnOutput, error) {
	msgs := make([]chatMessage, 0, len(messages)+1)
	msgs = append(msgs, chatMessage{Role: "system", Content: system})
	for _, m := range messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: msgs,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   turnSchemaName,
				Strict: true,
				Schema: turnOutputSchema(),
			},
		},
		Stream: false,
	})
	if err != nil {
		return TurnOutput{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return TurnOutput{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TurnOutput{}, fmt.Errorf("%w: send request: %w", ErrInvocationFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return TurnOutput{}, fmt.Errorf("%w: status %d: %s", ErrInvocationFailed, resp.StatusCode, string(detail))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return TurnOutput{}, fmt.Errorf("%w: decode response: %w", ErrInvocationFailed, err)
	}
	if len(cr.Choices) == 0 {
		return TurnOutput{}, fmt.Errorf("%w: no choices returned", ErrInvalidOutput)
	}

	var payload turnPayload
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &payload); err != nil {
		return TurnOutput{}, fmt.Errorf("%w: decode structured content: %w", ErrInvalidOutput, err)
	}
	if err := payload.validate(); err != nil {
		return TurnOutput{}, err
	}

	usage := model.TokenUsage{
		InputTokens:  cr.Usage.PromptTokens,
		OutputTokens: cr.Usage.CompletionTokens,
	}
	return payload.toOutput(usage), nil
}
