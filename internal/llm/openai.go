package llm

import (
	"context"
	"net/http"
)

// OpenAI calls the chat completions API.
type OpenAI struct {
	baseURL string
	client  *http.Client
}

// NewOpenAI creates an OpenAI client. An empty baseURL means api.openai.com.
func NewOpenAI(baseURL string, client *http.Client) *OpenAI {
	return &OpenAI{baseURL: baseURL, client: client}
}

func (o *OpenAI) Name() string         { return "openai" }
func (o *OpenAI) DefaultModel() string { return "gpt-4" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model": orDefault(req.Model, o.DefaultModel()),
		"messages": []openAIMessage{
			{Role: "system", Content: orDefault(req.System, DefaultSystemPrompt)},
			{Role: "user", Content: req.Prompt},
		},
	}
	var parsed struct {
		Choices []struct {
			Message openAIMessage `json:"message"`
		} `json:"choices"`
	}
	err := postJSON(ctx, o.client, o.Name(),
		endpoint(o.baseURL, "https://api.openai.com", "/v1/chat/completions"),
		map[string]string{"Authorization": "Bearer " + req.APIKey},
		payload, &parsed)
	if err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", missingText(o.Name())
	}
	return parsed.Choices[0].Message.Content, nil
}
