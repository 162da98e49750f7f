package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Gemini calls the generateContent API.
type Gemini struct {
	baseURL string
	client  *http.Client
}

// NewGemini creates a Gemini client. An empty baseURL means
// generativelanguage.googleapis.com.
func NewGemini(baseURL string, client *http.Client) *Gemini {
	return &Gemini{baseURL: baseURL, client: client}
}

func (g *Gemini) Name() string         { return "gemini" }
func (g *Gemini) DefaultModel() string { return "gemini-2.0-flash" }

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	model := orDefault(req.Model, g.DefaultModel())
	payload := map[string]any{
		"systemInstruction": geminiContent{Parts: []geminiPart{{Text: orDefault(req.System, DefaultSystemPrompt)}}},
		"contents":          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	var parsed struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
	}
	err := postJSON(ctx, g.client, g.Name(),
		endpoint(g.baseURL, "https://generativelanguage.googleapis.com",
			"/v1beta/models/"+url.PathEscape(model)+":generateContent"),
		map[string]string{"x-goog-api-key": req.APIKey},
		payload, &parsed)
	if err != nil {
		return "", err
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", missingText(g.Name())
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
