package nodes

import (
	"context"
	"log/slog"

	"github.com/rendis/nodeflow/internal/credentials"
	"github.com/rendis/nodeflow/internal/flowctx"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Completion is what an LLM node stores under its variable.
type Completion struct {
	Text string `json:"text"`
}

// LLMExecutor implements OPENAI, ANTHROPIC and GEMINI nodes; only the
// provider differs.
type LLMExecutor struct {
	provider    llm.Provider
	renderer    *template.Renderer
	credentials credentials.Resolver
	logger      *slog.Logger
}

// NewLLMExecutor creates an executor bound to provider.
func NewLLMExecutor(provider llm.Provider, d Deps) *LLMExecutor {
	renderer := d.Renderer
	if renderer == nil {
		renderer = template.NewRenderer()
	}
	return &LLMExecutor{
		provider:    provider,
		renderer:    renderer,
		credentials: d.Credentials,
		logger:      loggerOrDiscard(d.Logger),
	}
}

func (e *LLMExecutor) Execute(ctx context.Context, in Input) (flowctx.Context, error) {
	node := in.Node
	return run(ctx, in, e.logger, func(ctx context.Context, data map[string]any) (flowctx.Context, error) {
		variable, err := requireVariableName(node)
		if err != nil {
			return flowctx.Context{}, err
		}
		promptTmpl, err := requireString(node, "userPrompt")
		if err != nil {
			return flowctx.Context{}, err
		}
		credentialID, err := requireString(node, "credentialId")
		if err != nil {
			return flowctx.Context{}, err
		}

		system := llm.DefaultSystemPrompt
		if tmpl := stringParam(node.Data, "systemPrompt", ""); tmpl != "" {
			if system, err = e.renderer.Render(ctx, tmpl, data); err != nil {
				return flowctx.Context{}, err
			}
		}
		prompt, err := e.renderer.Render(ctx, promptTmpl, data)
		if err != nil {
			return flowctx.Context{}, err
		}

		if e.credentials == nil {
			return flowctx.Context{}, schema.NewError(schema.ErrCodeCredential, "no credential resolver configured").WithNode(node.ID)
		}
		apiKey, err := e.credentials.Resolve(ctx, in.Steps, node.ID, credentialID, in.OwnerID)
		if err != nil {
			return flowctx.Context{}, err
		}

		req := llm.Request{
			Model:  stringParam(node.Data, "model", e.provider.DefaultModel()),
			System: system,
			Prompt: prompt,
			APIKey: apiKey,
		}
		out, err := steps.Do(ctx, in.Steps, node.ID+"/"+e.provider.Name()+"-generate-text", func(ctx context.Context) (Completion, error) {
			text, err := e.provider.Generate(ctx, req)
			return Completion{Text: text}, err
		})
		if err != nil {
			return flowctx.Context{}, err
		}
		return in.Context.With(variable, out)
	})
}
