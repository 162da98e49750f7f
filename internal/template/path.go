package template

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/rendis/nodeflow/pkg/schema"
)

// segment is one step of a property path: a key or an array index.
type segment struct {
	key   string
	index int
	isIdx bool
}

// parsePath parses a property path such as
//
//	httpResponse.data.items[0].name
//	googleForm.responses["Question Name"]
//	googleForm.responses.[Question Name]
//
// The single segment "this" (or ".") addresses the whole context.
func parsePath(path string) ([]segment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, pathError(path, "empty path")
	}
	if path == "this" || path == "." {
		return nil, nil
	}
	path = strings.TrimPrefix(path, "this.")

	var segs []segment
	i := 0
	expectIdent := true
	for i < len(path) {
		c := path[i]
		switch {
		case c == '.':
			if expectIdent {
				return nil, pathError(path, "unexpected '.'")
			}
			i++
			expectIdent = true
			if i < len(path) && path[i] == '[' {
				end := strings.IndexByte(path[i:], ']')
				if end == -1 {
					return nil, pathError(path, "unclosed '['")
				}
				lit := path[i+1 : i+end]
				if lit == "" {
					return nil, pathError(path, "empty segment literal")
				}
				segs = append(segs, literalSegment(lit))
				i += end + 1
				expectIdent = false
			}
		case c == '[':
			if len(segs) == 0 {
				return nil, pathError(path, "path must start with a name")
			}
			seg, n, err := parseBracket(path, i)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
			i += n
			expectIdent = false
		default:
			if !expectIdent {
				return nil, pathError(path, "expected '.' or '['")
			}
			start := i
			for i < len(path) && isIdentByte(path[i], i == start) {
				i++
			}
			if i == start {
				return nil, pathError(path, "invalid character "+strconv.Quote(string(c)))
			}
			segs = append(segs, literalSegment(path[start:i]))
			expectIdent = false
		}
	}
	if expectIdent {
		return nil, pathError(path, "path ends with '.'")
	}
	return segs, nil
}

// parseBracket parses ["key"], ['key'] or [0] starting at path[i] == '['.
func parseBracket(path string, i int) (segment, int, error) {
	rest := path[i+1:]
	if rest == "" {
		return segment{}, 0, pathError(path, "unclosed '['")
	}
	if q := rest[0]; q == '"' || q == '\'' {
		var b strings.Builder
		for j := 1; j < len(rest); j++ {
			switch rest[j] {
			case '\\':
				if j+1 < len(rest) {
					j++
					b.WriteByte(rest[j])
				}
			case q:
				if j+1 >= len(rest) || rest[j+1] != ']' {
					return segment{}, 0, pathError(path, "expected ']' after quoted key")
				}
				return segment{key: b.String()}, j + 3, nil
			default:
				b.WriteByte(rest[j])
			}
		}
		return segment{}, 0, pathError(path, "unterminated quoted key")
	}
	end := strings.IndexByte(rest, ']')
	if end == -1 {
		return segment{}, 0, pathError(path, "unclosed '['")
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest[:end]))
	if err != nil || n < 0 {
		return segment{}, 0, pathError(path, "bracket index must be a non-negative integer or a quoted key")
	}
	return segment{index: n, isIdx: true}, end + 2, nil
}

func literalSegment(lit string) segment {
	if n, err := strconv.Atoi(lit); err == nil && n >= 0 {
		return segment{index: n, isIdx: true}
	}
	return segment{key: lit}
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c == '$':
		return true
	case c == '-':
		return !first
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return false
}

// jqQuery renders segments as an error-suppressing jq path expression.
func jqQuery(segs []segment) string {
	if len(segs) == 0 {
		return "."
	}
	var b strings.Builder
	for _, s := range segs {
		if s.isIdx {
			b.WriteString(".[" + strconv.Itoa(s.index) + "]?")
			continue
		}
		key, _ := json.Marshal(s.key)
		b.WriteString(".[" + string(key) + "]?")
	}
	return b.String()
}

func pathError(path, reason string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid template path %q: %s", path, reason).
		WithDetails(map[string]any{"path": path})
}
