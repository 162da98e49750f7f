package nodes

import (
	"net/http"

	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Registry maps every node type to its executor. The table is closed: it is
// built once from Deps and cannot be extended at run time.
type Registry struct {
	manual    Executor
	form      Executor
	stripe    Executor
	http      Executor
	openai    Executor
	anthropic Executor
	gemini    Executor
	discord   Executor
	slack     Executor
}

// NewRegistry builds all executors.
func NewRegistry(d Deps) *Registry {
	if d.Renderer == nil {
		d.Renderer = template.NewRenderer()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	d.Logger = loggerOrDiscard(d.Logger)

	openai, anthropic, gemini := llm.Providers(d.LLM)
	return &Registry{
		manual:    &TriggerExecutor{logger: d.Logger},
		form:      &TriggerExecutor{logger: d.Logger},
		stripe:    &TriggerExecutor{logger: d.Logger},
		http:      NewHTTPExecutor(d),
		openai:    NewLLMExecutor(openai, d),
		anthropic: NewLLMExecutor(anthropic, d),
		gemini:    NewLLMExecutor(gemini, d),
		discord:   NewChatExecutor(Discord, d),
		slack:     NewChatExecutor(Slack, d),
	}
}

// Get returns the executor for t. An unknown type is an internal bug and
// reported as a terminal error.
func (r *Registry) Get(t schema.NodeType) (Executor, error) {
	switch t {
	case schema.NodeTypeInitial, schema.NodeTypeManualTrigger:
		return r.manual, nil
	case schema.NodeTypeGoogleFormTrigger:
		return r.form, nil
	case schema.NodeTypeStripeTrigger:
		return r.stripe, nil
	case schema.NodeTypeHTTPRequest:
		return r.http, nil
	case schema.NodeTypeOpenAI:
		return r.openai, nil
	case schema.NodeTypeAnthropic:
		return r.anthropic, nil
	case schema.NodeTypeGemini:
		return r.gemini, nil
	case schema.NodeTypeDiscord:
		return r.discord, nil
	case schema.NodeTypeSlack:
		return r.slack, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "no executor for node type %q", t)
	}
}
