package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/docs"
)

// ReadWorkflowExample serves the example silicon calculation script.
func (h *Handlers) ReadWorkflowExample(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	script, err := docs.ExampleScript(h.app.Template)
	if err != nil {
		return nil, fmt.Errorf("render example: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/x-python", Text: script},
	}, nil
}

// ReadCodeConfigs serves the default pw and phonopy code configurations.
func (h *Handlers) ReadCodeConfigs(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := aiida.MarshalCodeConfigs(aiida.DefaultCodeConfigs())
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/yaml", Text: string(data)},
	}, nil
}

// ReadWorkflowGuide serves the Markdown workflow guide.
func (h *Handlers) ReadWorkflowGuide(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/markdown", Text: docs.WorkflowGuide()},
	}, nil
}
