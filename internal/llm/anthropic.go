package llm

import (
	"context"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the Messages API.
type Anthropic struct {
	baseURL string
	client  *http.Client
}

// NewAnthropic creates an Anthropic client. An empty baseURL means api.anthropic.com.
func NewAnthropic(baseURL string, client *http.Client) *Anthropic {
	return &Anthropic{baseURL: baseURL, client: client}
}

func (a *Anthropic) Name() string         { return "anthropic" }
func (a *Anthropic) DefaultModel() string { return "claude-opus-4-0" }

func (a *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model":      orDefault(req.Model, a.DefaultModel()),
		"max_tokens": maxCompletionTokens,
		"system":     orDefault(req.System, DefaultSystemPrompt),
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	err := postJSON(ctx, a.client, a.Name(),
		endpoint(a.baseURL, "https://api.anthropic.com", "/v1/messages"),
		map[string]string{"x-api-key": req.APIKey, "anthropic-version": anthropicVersion},
		payload, &parsed)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	found := false
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
			found = true
		}
	}
	if !found {
		return "", missingText(a.Name())
	}
	return sb.String(), nil
}
