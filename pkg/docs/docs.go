// Package docs holds the embedded user documentation and the example
// calculation used by the MCP resources and the CLI.
package docs

import (
	_ "embed"

	"github.com/ormasoftchile/phonon/pkg/artifact"
	"github.com/ormasoftchile/phonon/pkg/params"
)

//go:embed workflow_guide.md
var workflowGuide string

// WorkflowGuide returns the step-by-step guide in Markdown.
func WorkflowGuide() string { return workflowGuide }

// ExampleParameters is the silicon calculation shown in examples.
func ExampleParameters() *params.CalculationParameters {
	return &params.CalculationParameters{
		Material:    "Si",
		Structure:   params.Structure{Kind: params.StructureFile, Source: "Si_mp-149_primitive.cif"},
		Protocol:    params.ProtocolFast,
		KPoints:     params.Mesh{3, 3, 3},
		Supercell:   params.Mesh{1, 1, 1},
		PWCode:      "pw-7.3@localhost",
		PhonopyCode: "phonopy@localhost",
	}
}

// ExampleScript renders the example parameters through tmpl (the embedded
// default if nil).
func ExampleScript(tmpl *artifact.Template) (string, error) {
	if tmpl == nil {
		tmpl = artifact.DefaultTemplate()
	}
	out, err := artifact.Render(ExampleParameters(), tmpl)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
