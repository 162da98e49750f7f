// Package llm holds minimal text-generation clients for the hosted model
// providers nodes can call.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	// DefaultSystemPrompt is used when a node configures none.
	DefaultSystemPrompt = "You are a helpful assistant."

	defaultTimeout      = 60 * time.Second
	maxErrorBody        = 4 * 1024
	maxCompletionTokens = 1024
)

// Request is one completion call.
type Request struct {
	Model  string
	System string
	Prompt string
	APIKey string
}

// Provider generates text for a single prompt.
type Provider interface {
	Name() string
	DefaultModel() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Config points providers at their APIs. Empty URLs use the public endpoints.
type Config struct {
	OpenAIBaseURL    string
	AnthropicBaseURL string
	GeminiBaseURL    string
	Timeout          time.Duration
}

// Providers builds the three provider clients sharing one http.Client.
func Providers(cfg Config) (openai, anthropic, gemini Provider) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	return NewOpenAI(cfg.OpenAIBaseURL, client),
		NewAnthropic(cfg.AnthropicBaseURL, client),
		NewGemini(cfg.GeminiBaseURL, client)
}

// postJSON sends payload and decodes a 2xx response into out. Failures are
// classified by status: 5xx and 429 are upstream errors, 401/403 are
// credential errors, any other 4xx is a validation error.
func postJSON(ctx context.Context, client *http.Client, provider, endpoint string, headers map[string]string, payload, out any) error {
	body, err := xjson.Marshal(payload)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: encode request", provider).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: build request", provider).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return schema.NewErrorf(schema.ErrCodeUpstream, "%s: request failed", provider).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(provider, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeUpstream, "%s: read response", provider).WithCause(err)
	}
	if err := xjson.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeUpstream, "%s: malformed response", provider).WithCause(err)
	}
	return nil
}

func statusError(provider string, status int, body string) *schema.FlowError {
	code := schema.ErrCodeValidation
	switch {
	case status >= 500, status == http.StatusTooManyRequests:
		code = schema.ErrCodeUpstream
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		code = schema.ErrCodeCredential
	}
	return schema.NewErrorf(code, "%s: provider returned %d", provider, status).
		WithDetails(map[string]any{"status": status, "body": body})
}

func endpoint(base, fallback, path string) string {
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/") + path
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func missingText(provider string) error {
	return schema.NewError(schema.ErrCodeUpstream, fmt.Sprintf("%s: response carried no text", provider))
}
