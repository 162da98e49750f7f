package schema

import (
	"fmt"
	"strings"
)

// Graph rule identifiers reported by graph checks.
const (
	RuleNilGraph               = "NIL_GRAPH"
	RuleDuplicateVariable      = "DUPLICATE_VARIABLE"
	RuleMultipleManualTriggers = "MULTIPLE_MANUAL_TRIGGERS"
	RuleNoTrigger              = "NO_TRIGGER"
)

// GraphIssue is one graph rule violation. NodeID is empty for rules about
// the graph as a whole.
type GraphIssue struct {
	Rule    string `json:"rule"`
	NodeID  string `json:"nodeId,omitempty"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i GraphIssue) String() string {
	if i.NodeID == "" {
		return fmt.Sprintf("%s: %s", i.Rule, i.Message)
	}
	return fmt.Sprintf("%s (node %s): %s", i.Rule, i.NodeID, i.Message)
}

// GraphReport collects the outcome of checking a graph. Errors block
// execution, warnings do not.
type GraphReport struct {
	Errors   []GraphIssue `json:"errors,omitempty"`
	Warnings []GraphIssue `json:"warnings,omitempty"`
}

// Valid reports whether the graph has no errors.
func (r *GraphReport) Valid() bool {
	return len(r.Errors) == 0
}

// Errorf records a blocking issue.
func (r *GraphReport) Errorf(rule, nodeID, path, format string, args ...any) {
	r.Errors = append(r.Errors, GraphIssue{
		Rule: rule, NodeID: nodeID, Path: path, Message: fmt.Sprintf(format, args...),
	})
}

// Warnf records a non-blocking issue.
func (r *GraphReport) Warnf(rule, nodeID, path, format string, args ...any) {
	r.Warnings = append(r.Warnings, GraphIssue{
		Rule: rule, NodeID: nodeID, Path: path, Message: fmt.Sprintf(format, args...),
	})
}

// ToError returns nil for a valid graph. Otherwise it returns a VALIDATION
// FlowError listing every issue; a single error about one node is attributed
// to that node.
func (r *GraphReport) ToError() error {
	if r.Valid() {
		return nil
	}

	fe := NewError(ErrCodeValidation, r.Errors[0].Message)
	if len(r.Errors) == 1 {
		fe = fe.WithNode(r.Errors[0].NodeID)
	} else {
		lines := make([]string, len(r.Errors))
		for i, issue := range r.Errors {
			lines[i] = issue.String()
		}
		fe = NewErrorf(ErrCodeValidation, "graph has %d errors: %s", len(r.Errors), strings.Join(lines, "; "))
	}
	return fe.WithDetails(map[string]any{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
}
