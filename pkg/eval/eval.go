// Package eval renders Go text/template strings used by the command catalog
// and the generated-script templates.
package eval

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Resolve evaluates a template string against a variable scope.
// Missing keys are an error, so a typo in a command template never turns
// into an empty argument.
// Example: Resolve("{{ .pk }}", {"pk": 42}) → "42"
func Resolve(tmpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil // fast path for literals
	}

	t, err := template.New("").Funcs(builtinFuncs()).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template eval: %w", err)
	}
	return buf.String(), nil
}

// ResolveArgv resolves every element of an argv template.
func ResolveArgv(argv []string, vars map[string]any) ([]string, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	out := make([]string, len(argv))
	for i, arg := range argv {
		resolved, err := Resolve(arg, vars)
		if err != nil {
			return nil, fmt.Errorf("argv[%d] template: %w", i, err)
		}
		out[i] = resolved
	}
	return out, nil
}

// builtinFuncs provides template functions for expressions.
func builtinFuncs() template.FuncMap {
	return template.FuncMap{
		"lower": func(s any) string {
			return strings.ToLower(fmt.Sprint(s))
		},
		"upper": func(s any) string {
			return strings.ToUpper(fmt.Sprint(s))
		},
		"default": func(def, val any) any {
			if val == nil || fmt.Sprint(val) == "" {
				return def
			}
			return val
		},
		"join": func(sep string, items []string) string {
			return strings.Join(items, sep)
		},
	}
}
