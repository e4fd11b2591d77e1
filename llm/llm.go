// Package llm is a lightweight OpenAI-compatible completion client used
// for inline structured extraction. Keys are bring-your-own, passed per
// request; the gateway never stores them.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/webpeel/webpeel/models"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is one model response.
type Completion struct {
	Content string
	Usage   Usage
}

// Provider is the adapter the core programs against. Any backend that can
// complete a chat in JSON mode can serve extraction.
type Provider interface {
	Complete(ctx context.Context, messages []Message, jsonMode bool) (*Completion, error)
}

// Known provider names and their OpenAI-compatible endpoints. A provider
// value containing "://" is used as the base URL directly.
var providerBaseURLs = map[string]string{
	"":           "https://api.openai.com/v1",
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
}

const defaultModel = "gpt-4o-mini"

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient builds a client for the named provider (or a base URL). The
// API key is required; the model defaults to a small, cheap one.
func NewClient(provider, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, models.NewValidationError(models.ErrCodeInvalidOpt, "llm extraction requires llm_api_key")
	}
	baseURL, ok := providerBaseURLs[strings.ToLower(provider)]
	if !ok {
		if !strings.Contains(provider, "://") {
			return nil, models.NewValidationError(models.ErrCodeInvalidOpt,
				fmt.Sprintf("unknown llm provider: %s", provider))
		}
		baseURL = provider
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete runs one chat completion.
func (c *Client) Complete(ctx context.Context, messages []Message, jsonMode bool) (*Completion, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.PeelError{Kind: models.KindNetwork, Code: models.ErrCodeLLMFailure,
			Message: "llm request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &models.PeelError{Kind: models.KindNetwork, Code: models.ErrCodeLLMFailure,
			Message: "failed to read llm response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &models.PeelError{Kind: models.KindNetwork, Code: models.ErrCodeLLMFailure,
			Message: "failed to parse llm response", Err: err}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &models.PeelError{Kind: models.KindNetwork, Code: models.ErrCodeLLMFailure,
			Message: "llm returned no choices"}
	}

	return &Completion{
		Content: chatResp.Choices[0].Message.Content,
		Usage:   chatResp.Usage,
	}, nil
}

// Extract asks the provider to pull structured data out of distilled
// content. The instruction is free text; the schema, when present, pins
// the output shape.
func Extract(ctx context.Context, p Provider, content, instruction string, schema json.RawMessage) (json.RawMessage, *Usage, error) {
	completion, err := p.Complete(ctx, []Message{
		{Role: "system", Content: buildSystemPrompt(instruction, schema)},
		{Role: "user", Content: content},
	}, true)
	if err != nil {
		return nil, nil, err
	}

	raw := strings.TrimSpace(completion.Content)
	if !json.Valid([]byte(raw)) {
		return nil, nil, &models.PeelError{Kind: models.KindNetwork, Code: models.ErrCodeLLMFailure,
			Message: "llm returned invalid JSON"}
	}
	return json.RawMessage(raw), &completion.Usage, nil
}

func buildSystemPrompt(instruction string, schema json.RawMessage) string {
	var b strings.Builder
	b.WriteString("You extract structured data from web content and answer only with valid JSON, no markdown fences or commentary. Use null for fields the content does not answer.\n")
	if instruction != "" {
		b.WriteString("\nTask: " + instruction + "\n")
	}
	if len(schema) > 0 {
		b.WriteString("\nOutput must match this schema:\n" + string(schema) + "\n")
	}
	return b.String()
}

// classifyError maps provider status codes onto the error taxonomy. Auth
// failures are the caller's key, so they are fatal validation errors.
func classifyError(statusCode int, body []byte) *models.PeelError {
	var errResp chatErrorResponse
	msg := "llm api error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &models.PeelError{Kind: models.KindValidation, Code: models.ErrCodeLLMFailure,
			Message: msg, Hint: "check llm_api_key and llm_provider"}
	case http.StatusTooManyRequests:
		return &models.PeelError{Kind: models.KindNetwork, Code: models.ErrCodeLLMFailure,
			Message: msg, Hint: "llm provider rate limit hit, retry later"}
	default:
		return &models.PeelError{Kind: models.KindNetwork, Code: models.ErrCodeLLMFailure,
			Message: fmt.Sprintf("llm api returned %d: %s", statusCode, msg)}
	}
}
