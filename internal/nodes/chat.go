package nodes

import (
	"bytes"
	"context"
	"errors"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rendis/nodeflow/internal/flowctx"
	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// MaxMessageLength is the longest message a chat node posts, in characters.
const MaxMessageLength = 2000

// ChatPlatform selects the webhook payload shape.
type ChatPlatform string

const (
	Discord ChatPlatform = "discord"
	Slack   ChatPlatform = "slack"
)

// ChatResult is what a chat node stores under its variable.
type ChatResult struct {
	MessageContent string `json:"messageContent"`
	Delivered      bool   `json:"delivered"`
}

// ChatExecutor implements DISCORD and SLACK nodes.
type ChatExecutor struct {
	platform ChatPlatform
	renderer *template.Renderer
	client   *http.Client
	logger   *slog.Logger
}

// NewChatExecutor creates a webhook poster for platform.
func NewChatExecutor(platform ChatPlatform, d Deps) *ChatExecutor {
	client := d.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	renderer := d.Renderer
	if renderer == nil {
		renderer = template.NewRenderer()
	}
	return &ChatExecutor{platform: platform, renderer: renderer, client: client, logger: loggerOrDiscard(d.Logger)}
}

func (e *ChatExecutor) Execute(ctx context.Context, in Input) (flowctx.Context, error) {
	node := in.Node
	return run(ctx, in, e.logger, func(ctx context.Context, data map[string]any) (flowctx.Context, error) {
		variable, err := requireVariableName(node)
		if err != nil {
			return flowctx.Context{}, err
		}
		webhookURL, err := requireString(node, "webhookUrl")
		if err != nil {
			return flowctx.Context{}, err
		}
		contentTmpl, err := requireString(node, "content")
		if err != nil {
			return flowctx.Context{}, err
		}
		if u, perr := url.ParseRequestURI(webhookURL); perr != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return flowctx.Context{}, validationError(node.ID, "%s node: invalid webhookUrl", node.Type)
		}

		rendered, err := e.renderer.Render(ctx, contentTmpl, data)
		if err != nil {
			return flowctx.Context{}, err
		}
		content := truncate(html.UnescapeString(rendered), MaxMessageLength)

		payload := e.payload(content, stringParam(node.Data, "username", ""))
		out, err := steps.Do(ctx, in.Steps, node.ID+"/"+string(e.platform)+"-webhook", func(ctx context.Context) (ChatResult, error) {
			if err := e.post(ctx, webhookURL, payload); err != nil {
				return ChatResult{}, err
			}
			return ChatResult{MessageContent: content, Delivered: true}, nil
		})
		if err != nil {
			return flowctx.Context{}, err
		}
		return in.Context.With(variable, out)
	})
}

func (e *ChatExecutor) payload(content, username string) map[string]any {
	if e.platform == Slack {
		return map[string]any{"text": content}
	}
	p := map[string]any{"content": content}
	if username != "" {
		p["username"] = username
	}
	return p
}

func (e *ChatExecutor) post(ctx context.Context, webhookURL string, payload map[string]any) error {
	body, err := xjson.Marshal(payload)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "encode webhook payload").WithCause(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "build webhook request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return schema.NewErrorf(schema.ErrCodeUpstream, "%s webhook: request failed", e.platform).WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return schema.NewErrorf(schema.ErrCodeUpstream, "%s webhook returned %d", e.platform, resp.StatusCode)
	case resp.StatusCode >= 400:
		return schema.NewErrorf(schema.ErrCodeValidation, "%s webhook rejected the message with %d", e.platform, resp.StatusCode)
	}
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
