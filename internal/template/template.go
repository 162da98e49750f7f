// Package template renders the {{path}} and {{json path}} placeholders used in
// node configuration against a context snapshot.
package template

import (
	"context"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/itchyny/gojq"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Renderer evaluates templates. It holds no helper registry: the grammar is
// fixed to a property path, optionally wrapped by the json helper.
// Safe for concurrent use; compiled path queries are cached.
type Renderer struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[string]*gojq.Code)}
}

// Render replaces every placeholder in tmpl with its value from data.
//
//	{{path}}       the value as text; strings verbatim, missing or null as ""
//	{{json path}}  the value as indented JSON; missing as null
//
// data must hold JSON-normalised values, as produced by flowctx.Context.Map.
func (r *Renderer) Render(ctx context.Context, tmpl string, data map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	var out strings.Builder
	out.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		idx := strings.Index(tmpl[i:], "{{")
		if idx == -1 {
			out.WriteString(tmpl[i:])
			break
		}
		out.WriteString(tmpl[i : i+idx])
		start := i + idx + 2

		end := strings.Index(tmpl[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed {{ in template")
		}
		end += start

		expr := strings.TrimSpace(tmpl[start:end])
		if strings.Contains(expr, "{{") {
			return "", schema.NewError(schema.ErrCodeValidation, "nested {{ in template")
		}

		text, err := r.evalPlaceholder(ctx, expr, data)
		if err != nil {
			return "", err
		}
		out.WriteString(text)
		i = end + 2
	}

	return out.String(), nil
}

// RenderAll renders each named template against the same snapshot.
func (r *Renderer) RenderAll(ctx context.Context, fields map[string]string, data map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for name, tmpl := range fields {
		text, err := r.Render(ctx, tmpl, data)
		if err != nil {
			return nil, err
		}
		out[name] = text
	}
	return out, nil
}

// Lookup resolves a single property path. ok is false when the path is missing.
func (r *Renderer) Lookup(ctx context.Context, path string, data map[string]any) (value any, ok bool, err error) {
	code, err := r.compile(path)
	if err != nil {
		return nil, false, err
	}

	iter := code.RunWithContext(ctx, map[string]any(data))
	v, has := iter.Next()
	if !has {
		return nil, false, nil
	}
	if e, isErr := v.(error); isErr {
		return nil, false, schema.NewErrorf(schema.ErrCodeValidation, "template path %q failed: %s", path, e.Error()).
			WithCause(e)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (r *Renderer) evalPlaceholder(ctx context.Context, expr string, data map[string]any) (string, error) {
	if expr == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "empty placeholder {{}} in template")
	}

	// A leading bare word followed by whitespace is a helper name; spaces
	// inside a bracketed key are part of the path.
	helper, path := "", expr
	if sp := strings.IndexAny(expr, " \t\r\n"); sp != -1 && !strings.ContainsAny(expr[:sp], ".[]\"'") {
		helper = expr[:sp]
		path = strings.TrimSpace(expr[sp:])
	}
	if helper != "" && helper != "json" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown template helper %q", helper).
			WithDetails(map[string]any{"expression": expr})
	}

	value, ok, err := r.Lookup(ctx, path, data)
	if err != nil {
		return "", err
	}

	if helper == "json" {
		if !ok {
			return "null", nil
		}
		raw, err := json.MarshalIndentWithOption(value, "", "  ", json.DisableHTMLEscape())
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "cannot serialize %q", path).WithCause(err)
		}
		return string(raw), nil
	}

	if !ok {
		return "", nil
	}
	return toText(value)
}

func (r *Renderer) compile(path string) (*gojq.Code, error) {
	r.mu.RLock()
	if code, ok := r.cache[path]; ok {
		r.mu.RUnlock()
		return code, nil
	}
	r.mu.RUnlock()

	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	query, err := gojq.Parse(jqQuery(segs))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid template path %q", path).WithCause(err)
	}
	code, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid template path %q", path).WithCause(err)
	}

	r.mu.Lock()
	r.cache[path] = code
	r.mu.Unlock()
	return code, nil
}

func toText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	default:
		raw, err := json.MarshalWithOption(t, json.DisableHTMLEscape())
		if err != nil {
			return "", schema.NewError(schema.ErrCodeValidation, "cannot render value as text").WithCause(err)
		}
		return string(raw), nil
	}
}
