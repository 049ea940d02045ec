package params

import (
	"fmt"
	"strings"
)

// ValidationError names one field that violates the parameter schema.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is the tagged failure result of Collect. It is never
// returned empty.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "invalid parameters: " + strings.Join(msgs, "; ")
}

// Fields returns the distinct offending field names in order.
func (es ValidationErrors) Fields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range es {
		if !seen[e.Field] {
			seen[e.Field] = true
			out = append(out, e.Field)
		}
	}
	return out
}

func invalidf(field, msg string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(msg, args...)}
}
