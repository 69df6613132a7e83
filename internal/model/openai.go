package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
)

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // e.g. https://api.openai.com/v1
	Model      string // e.g. "gpt-4o"
	Timeout    time.Duration
	MaxRetries int
	// Keyless allows servers that need no API key, such as a local
	// OpenAI-compatible endpoint.
	Keyless bool
}

// DefaultOpenAIConfig returns default configuration.
func DefaultOpenAIConfig(apiKey string) *OpenAIConfig {
	return &OpenAIConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// OpenAIClient implements Model over the chat completions API.
type OpenAIClient struct {
	cfg            *OpenAIConfig
	client         *http.Client
	circuitBreaker *apperrors.CircuitBreaker
	retryPolicy    *apperrors.Policy
}

// NewOpenAIClient creates a new client.
func NewOpenAIClient(cfg *OpenAIConfig) *OpenAIClient {
	if cfg == nil {
		return nil
	}

	retryPolicy := apperrors.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		retryPolicy.MaxAttempts = cfg.MaxRetries
	}
	retryPolicy.RetryIf = func(err error) bool {
		return apperrors.IsRetryable(err) && !apperrors.IsTimeout(err)
	}

	return &OpenAIClient{
		cfg:    cfg,
		client: &http.Client{},
		circuitBreaker: apperrors.NewCircuitBreaker(cfg.Model, &apperrors.CircuitBreakerConfig{
			MaxFailures:      5,
			ResetTimeout:     60 * time.Second,
			HalfOpenAttempts: 2,
		}),
		retryPolicy: retryPolicy,
	}
}

// Chat sends the history and tool list and returns the assistant turn.
func (c *OpenAIClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	if c == nil {
		return nil, apperrors.New(apperrors.CodeModelUnavailable, "model client not initialized", apperrors.CategorySystem)
	}
	if !c.IsAvailable() {
		return nil, apperrors.NewBuilder(apperrors.CodeModelUnavailable, "model API key not configured").
			Permanent().
			WithSuggestion("Set OPENAI_API_KEY in the environment or a .env file").
			Build()
	}
	if !c.circuitBreaker.Allow() {
		return nil, apperrors.NewBuilder(apperrors.CodeModelUnavailable, "model temporarily disabled after repeated failures").
			Temporary().
			WithContext("model", c.cfg.Model).
			Build()
	}

	resp, err := c.chatWithRetry(ctx, req)
	c.circuitBreaker.Record(err)
	return resp, err
}

func (c *OpenAIClient) chatWithRetry(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	jsonBody, err := json.Marshal(c.buildBody(req))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeModelInvalidResponse, "failed to marshal request", apperrors.CategoryPermanent)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	respBody, err := apperrors.DoWithResult(ctx, c.retryPolicy, func() ([]byte, error) {
		return c.post(ctx, jsonBody)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.BackendTimeout("model call", err)
		}
		return nil, err
	}

	resp, err := parseResponse(respBody)
	if err != nil {
		return nil, err
	}
	resp.DurationMs = time.Since(start).Milliseconds()
	return resp, nil
}

func (c *OpenAIClient) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeModelUnavailable, "failed to create HTTP request", apperrors.CategoryPermanent)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	r, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeModelUnavailable, "network request failed", apperrors.CategoryTemporary)
	}
	b, readErr := io.ReadAll(r.Body)
	r.Body.Close()
	if readErr != nil {
		return nil, apperrors.Wrap(readErr, apperrors.CodeModelUnavailable, "failed to read response body", apperrors.CategoryTemporary)
	}

	switch {
	case r.StatusCode == http.StatusOK:
		return b, nil
	case r.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewBuilder(apperrors.CodeModelRateLimit, "model rate limit reached").
			Temporary().
			WithContext("retry_after", r.Header.Get("Retry-After")).
			WithContext("detail", apiErrorMessage(b)).
			Build()
	case r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewBuilder(apperrors.CodeModelUnavailable, "invalid API key").
			Permanent().
			WithSuggestion("Check the key named by model.api_key_env").
			Build()
	case r.StatusCode == http.StatusBadRequest || r.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewBuilder(apperrors.CodeModelInvalidResponse, "request rejected: "+apiErrorMessage(b)).
			Permanent().
			WithContext("status", r.StatusCode).
			Build()
	case r.StatusCode >= 500:
		return nil, apperrors.Temporary(apperrors.CodeModelUnavailable, fmt.Sprintf("API unavailable: %s", r.Status))
	default:
		return nil, apperrors.New(apperrors.CodeModelUnavailable,
			fmt.Sprintf("API error (status %d): %s", r.StatusCode, apiErrorMessage(b)), apperrors.CategoryPermanent)
	}
}

// apiErrorMessage pulls error.message out of a provider error body.
func apiErrorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}

func (c *OpenAIClient) buildBody(req *Request) map[string]any {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toChatMessage(m))
	}
	body := map[string]any{
		"model":    c.cfg.Model,
		"messages": messages,
		// always sent: zero is a meaningful value here
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}
	return body
}

func toChatMessage(m Message) chatMessage {
	out := chatMessage{Role: string(m.Role), ToolCallID: m.ToolCallID, Name: m.Name}
	if m.Content != "" || len(m.ToolCalls) == 0 {
		content := m.Content
		out.Content = &content
	}
	for _, tc := range m.ToolCalls {
		wc := chatToolCall{ID: tc.ID, Type: "function"}
		wc.Function.Name = tc.Name
		wc.Function.Arguments = string(tc.Arguments)
		out.ToolCalls = append(out.ToolCalls, wc)
	}
	return out
}

func parseResponse(body []byte) (*Response, error) {
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, apperrors.NewBuilder(apperrors.CodeModelInvalidResponse, "failed to parse API response").
			Permanent().
			Wrap(err).
			WithContext("response_body", string(body)).
			Build()
	}
	if len(cr.Choices) == 0 {
		return nil, apperrors.New(apperrors.CodeModelInvalidResponse, "API response contained no choices", apperrors.CategoryPermanent)
	}

	choice := cr.Choices[0]
	msg := Message{Role: RoleAssistant}
	if choice.Message.Content != nil {
		msg.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			continue
		}
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}

	return &Response{
		Message:      msg,
		TokensUsed:   cr.Usage.TotalTokens,
		Model:        cr.Model,
		FinishReason: choice.FinishReason,
	}, nil
}

// IsAvailable checks if the client is configured.
func (c *OpenAIClient) IsAvailable() bool {
	return c != nil && c.cfg != nil && (c.cfg.APIKey != "" || c.cfg.Keyless)
}

// Name returns the model name.
func (c *OpenAIClient) Name() string {
	if c != nil && c.cfg != nil {
		return c.cfg.Model
	}
	return "openai"
}

// Status returns the model status.
func (c *OpenAIClient) Status() *Status {
	s := &Status{Name: c.Name(), Available: c.IsAvailable()}
	if c != nil && c.circuitBreaker != nil {
		s.Breaker = c.circuitBreaker.State().String()
	}
	return s
}

// ============================================================
// Chat Completions Wire Types
// ============================================================

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string         `json:"role"`
			Content   *string        `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
