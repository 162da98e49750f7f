package nodes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/flowctx"
	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
	defaultHTTPVariable    = "httpResponse"
)

var httpMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// HTTPResponse is what an HTTP request node stores under its variable.
type HTTPResponse struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Data       any    `json:"data"`
}

// HTTPExecutor implements HTTP_REQUEST nodes.
type HTTPExecutor struct {
	renderer        *template.Renderer
	client          *http.Client
	maxResponseBody int64
	logger          *slog.Logger
}

// NewHTTPExecutor creates the HTTP request executor.
func NewHTTPExecutor(d Deps) *HTTPExecutor {
	client := d.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	renderer := d.Renderer
	if renderer == nil {
		renderer = template.NewRenderer()
	}
	return &HTTPExecutor{
		renderer:        renderer,
		client:          client,
		maxResponseBody: defaultMaxResponseBody,
		logger:          loggerOrDiscard(d.Logger),
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, in Input) (flowctx.Context, error) {
	node := in.Node
	return run(ctx, in, e.logger, func(ctx context.Context, data map[string]any) (flowctx.Context, error) {
		endpoint, err := requireString(node, "endpoint")
		if err != nil {
			return flowctx.Context{}, err
		}
		method, err := requireString(node, "method")
		if err != nil {
			return flowctx.Context{}, err
		}
		method = strings.ToUpper(method)
		if !httpMethods[method] {
			return flowctx.Context{}, validationError(node.ID, "HTTP_REQUEST node: unsupported method %q", method)
		}
		variable := stringParam(node.Data, "variableName", defaultHTTPVariable)
		if !variableNamePattern.MatchString(variable) {
			return flowctx.Context{}, validationError(node.ID, "HTTP_REQUEST node: invalid variableName %q", variable)
		}

		target, err := e.renderer.Render(ctx, endpoint, data)
		if err != nil {
			return flowctx.Context{}, err
		}
		u, err := url.ParseRequestURI(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return flowctx.Context{}, validationError(node.ID, "HTTP_REQUEST node: invalid endpoint %q", target)
		}

		var body string
		if tmpl := stringParam(node.Data, "body", ""); tmpl != "" && hasBody(method) {
			body, err = e.renderer.Render(ctx, tmpl, data)
			if err != nil {
				return flowctx.Context{}, err
			}
			if !xjson.Valid([]byte(body)) {
				return flowctx.Context{}, validationError(node.ID, "HTTP_REQUEST node: body is not valid JSON after rendering")
			}
		}

		resp, err := steps.Do(ctx, in.Steps, node.ID+"/http-request", func(ctx context.Context) (HTTPResponse, error) {
			return e.do(ctx, method, target, body)
		})
		if err != nil {
			return flowctx.Context{}, err
		}
		return in.Context.With(variable, resp)
	})
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func (e *HTTPExecutor) do(ctx context.Context, method, target, body string) (HTTPResponse, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return HTTPResponse{}, schema.NewError(schema.ErrCodeValidation, "HTTP_REQUEST node: failed to create request").WithCause(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return HTTPResponse{}, err
		}
		return HTTPResponse{}, schema.NewErrorf(schema.ErrCodeUpstream, "HTTP_REQUEST node: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.maxResponseBody))
	if err != nil {
		return HTTPResponse{}, schema.NewError(schema.ErrCodeUpstream, "HTTP_REQUEST node: failed to read response body").WithCause(err)
	}

	out := HTTPResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Data:       parseBody(resp.Header.Get("Content-Type"), raw),
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return HTTPResponse{}, schema.NewErrorf(schema.ErrCodeUpstream, "HTTP_REQUEST node: server returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status": out.Status, "data": out.Data})
	}
	return out, nil
}

// parseBody decodes JSON responses and returns anything else as text.
func parseBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := xjson.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}
