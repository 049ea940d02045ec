package artifact

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"
)

//go:embed templates/phonon_calculation.py.tmpl
var templatesFS embed.FS

// DefaultTemplateName is the embedded template's name.
const DefaultTemplateName = "phonon_calculation.py.tmpl"

// Fields are the parameter names every template must reference, and may
// only reference.
var Fields = []string{
	"convergence",
	"kpoints",
	"material",
	"phonopy_code",
	"protocol",
	"pw_code",
	"qpath",
	"structure_kind",
	"structure_source",
	"supercell",
}

// Template is a parsed script template.
type Template struct {
	Name string
	Text string
	tmpl *template.Template
}

// DefaultTemplate returns the embedded phonon script template.
func DefaultTemplate() *Template {
	data, err := templatesFS.ReadFile("templates/" + DefaultTemplateName)
	if err != nil {
		panic(fmt.Sprintf("embedded template: %v", err))
	}
	t, err := ParseTemplate(DefaultTemplateName, string(data))
	if err != nil {
		panic(fmt.Sprintf("embedded template: %v", err))
	}
	return t
}

// LoadTemplate reads and parses a template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return ParseTemplate(filepath.Base(path), string(data))
}

// ParseTemplate parses text and checks that its placeholders match Fields
// exactly: every placeholder names a field and every field has a placeholder.
func ParseTemplate(name, text string) (*Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, &TemplateError{Template: name, Err: err}
	}

	used := make(map[string]bool)
	for _, tt := range t.Templates() {
		if tt.Tree != nil {
			collectFields(tt.Tree.Root, used)
		}
	}

	known := make(map[string]bool, len(Fields))
	for _, f := range Fields {
		known[f] = true
	}
	var unknown, missing []string
	for f := range used {
		if !known[f] {
			unknown = append(unknown, f)
		}
	}
	for _, f := range Fields {
		if !used[f] {
			missing = append(missing, f)
		}
	}
	if len(unknown) > 0 || len(missing) > 0 {
		sort.Strings(unknown)
		return nil, &TemplateError{Template: name, Unknown: unknown, Missing: missing}
	}
	return &Template{Name: name, Text: text, tmpl: t}, nil
}

// collectFields records the top-level field of every {{ .x }} and {{ $.x }}
// reference under n.
func collectFields(n parse.Node, used map[string]bool) {
	switch n := n.(type) {
	case nil:
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			collectFields(c, used)
		}
	case *parse.ActionNode:
		collectFields(n.Pipe, used)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, c := range n.Cmds {
			collectFields(c, used)
		}
	case *parse.CommandNode:
		for _, a := range n.Args {
			collectFields(a, used)
		}
	case *parse.FieldNode:
		if len(n.Ident) > 0 {
			used[n.Ident[0]] = true
		}
	case *parse.VariableNode:
		if len(n.Ident) > 1 && n.Ident[0] == "$" {
			used[n.Ident[1]] = true
		}
	case *parse.ChainNode:
		collectFields(n.Node, used)
	case *parse.IfNode:
		collectBranch(&n.BranchNode, used)
	case *parse.RangeNode:
		collectBranch(&n.BranchNode, used)
	case *parse.WithNode:
		collectBranch(&n.BranchNode, used)
	case *parse.TemplateNode:
		collectFields(n.Pipe, used)
	}
}

func collectBranch(b *parse.BranchNode, used map[string]bool) {
	collectFields(b.Pipe, used)
	collectFields(b.List, used)
	collectFields(b.ElseList, used)
}

// TemplateError reports a template that cannot be parsed or whose
// placeholders do not match the parameter fields.
type TemplateError struct {
	Template string
	Unknown  []string // placeholders naming no parameter
	Missing  []string // parameters with no placeholder
	Err      error
}

func (e *TemplateError) Error() string {
	var parts []string
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown placeholders: "+strings.Join(e.Unknown, ", "))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "parameters without placeholder: "+strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("template %s: %s", e.Template, strings.Join(parts, "; "))
}

func (e *TemplateError) Unwrap() error { return e.Err }
