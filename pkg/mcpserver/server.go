// Package mcpserver exposes the phonon orchestrator as MCP tools and
// resources.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/phonon/pkg/app"
)

// Resource URIs.
const (
	URIWorkflowExample = "aiida://examples/phonon_workflow"
	URICodeConfigs     = "aiida://config/codes"
	URIWorkflowGuide   = "aiida://docs/workflow_guide"
)

// NewServer creates an MCP server with the phonon tools and resources
// registered against a.
func NewServer(a *app.App, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"aiida-phonon",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)
	h := NewHandlers(a)

	// Orchestrated workflow
	s.AddTool(
		mcp.NewTool("phonon_request",
			mcp.WithDescription("Start a phonon band structure request for a material: verifies AiiDA codes and pseudopotentials"),
			mcp.WithString("material", mcp.Required(), mcp.Description("Material name, e.g. Si")),
		),
		h.HandleRequest,
	)
	s.AddTool(
		mcp.NewTool("phonon_remediate",
			mcp.WithDescription("Install missing prerequisites, then re-verify"),
			mcp.WithString("items", mcp.Description("Comma-separated prerequisite names (default: all missing)")),
		),
		h.HandleRemediate,
	)
	s.AddTool(
		mcp.NewTool("phonon_decline_remediation",
			mcp.WithDescription("Decline installing missing prerequisites; ends the request"),
		),
		h.HandleDeclineRemediation,
	)
	s.AddTool(
		mcp.NewTool("phonon_collect",
			mcp.WithDescription("Provide calculation parameters; generates the calculation script for review"),
			mcp.WithString("structure_file", mcp.Description("Path to a CIF/POSCAR structure file")),
			mcp.WithString("structure_fetch", mcp.Description("Database identifier to fetch the structure from, e.g. mp-149")),
			mcp.WithString("protocol", mcp.Enum("fast", "moderate", "precise"), mcp.Description("Calculation protocol (default moderate)")),
			mcp.WithArray("kpoints", mcp.Items(map[string]any{"type": "integer"}), mcp.Description("K-points mesh, three positive integers (default [3,3,3])")),
			mcp.WithArray("supercell", mcp.Items(map[string]any{"type": "integer"}), mcp.Description("Supercell diagonal, three positive integers (default [2,2,2])")),
			mcp.WithString("pw_code", mcp.Description("Quantum ESPRESSO code label (default pw-7.3@localhost)")),
			mcp.WithString("phonopy_code", mcp.Description("Phonopy code label (default phonopy@localhost)")),
			mcp.WithObject("convergence", mcp.Description("Convergence overrides: conv_thr, ecutwfc, ecutrho, degauss, kpoints_distance")),
			mcp.WithArray("qpath", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Custom q-point path labels")),
		),
		h.HandleCollect,
	)
	s.AddTool(
		mcp.NewTool("phonon_approve",
			mcp.WithDescription("Approve the generated script and submit it with verdi run"),
		),
		h.HandleApprove,
	)
	s.AddTool(
		mcp.NewTool("phonon_reject",
			mcp.WithDescription("Reject the generated script; it is kept on disk"),
		),
		h.HandleReject,
	)
	s.AddTool(
		mcp.NewTool("phonon_abandon",
			mcp.WithDescription("Abandon the pending request and return to idle"),
		),
		h.HandleAbandon,
	)
	s.AddTool(
		mcp.NewTool("phonon_reset",
			mcp.WithDescription("Clear a completed or failed request so a new one can start"),
		),
		h.HandleReset,
	)
	s.AddTool(
		mcp.NewTool("phonon_status",
			mcp.WithDescription("Poll the submitted calculation once"),
		),
		h.HandleStatus,
	)
	s.AddTool(
		mcp.NewTool("phonon_export",
			mcp.WithDescription("Export the calculation's band structure data unmodified"),
			mcp.WithString("format", mcp.Description("Export format accepted by verdi data core.bands export (default agr)")),
		),
		h.HandleExport,
	)
	s.AddTool(
		mcp.NewTool("phonon_state",
			mcp.WithDescription("Show the orchestrator state, request details and history"),
		),
		h.HandleState,
	)

	// Direct tools
	s.AddTool(
		mcp.NewTool("check_prerequisites",
			mcp.WithDescription("Check if AiiDA codes and pseudopotentials are installed"),
		),
		h.HandleCheckPrerequisites,
	)
	s.AddTool(
		mcp.NewTool("install_code",
			mcp.WithDescription("Install an AiiDA code from its YAML configuration"),
			mcp.WithString("code_type", mcp.Required(), mcp.Enum("pw", "phonopy"), mcp.Description("Type of code to install")),
		),
		h.HandleInstallCode,
	)
	s.AddTool(
		mcp.NewTool("install_pseudopotentials",
			mcp.WithDescription("Install a pseudopotential library"),
			mcp.WithString("library", mcp.DefaultString("sssp"), mcp.Description("Pseudopotential library")),
			mcp.WithString("functional", mcp.DefaultString("PBEsol"), mcp.Description("Exchange-correlation functional")),
			mcp.WithString("version", mcp.DefaultString("1.3"), mcp.Description("Library version")),
		),
		h.HandleInstallPseudopotentials,
	)
	s.AddTool(
		mcp.NewTool("check_calculation_status",
			mcp.WithDescription("Show one process, or list recent processes when no id is given"),
			mcp.WithString("process_id", mcp.Description("Process PK (optional)")),
		),
		h.HandleCheckCalculationStatus,
	)

	// Resources
	s.AddResource(
		mcp.NewResource(URIWorkflowExample, "Phonon Workflow Example",
			mcp.WithResourceDescription("Template for phonon band structure calculations"),
			mcp.WithMIMEType("text/x-python"),
		),
		h.ReadWorkflowExample,
	)
	s.AddResource(
		mcp.NewResource(URICodeConfigs, "AiiDA Codes Configuration",
			mcp.WithResourceDescription("YAML configurations for Quantum ESPRESSO and Phonopy"),
			mcp.WithMIMEType("text/yaml"),
		),
		h.ReadCodeConfigs,
	)
	s.AddResource(
		mcp.NewResource(URIWorkflowGuide, "Workflow Documentation",
			mcp.WithResourceDescription("Step-by-step guide for phonon calculations"),
			mcp.WithMIMEType("text/markdown"),
		),
		h.ReadWorkflowGuide,
	)

	return s
}
