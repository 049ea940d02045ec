package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/app"
	"github.com/ormasoftchile/phonon/pkg/orchestrator"
	"github.com/ormasoftchile/phonon/pkg/params"
	"github.com/ormasoftchile/phonon/pkg/prereq"
	"github.com/ormasoftchile/phonon/pkg/tui"
)

// Handlers implements the MCP tools over one App.
type Handlers struct {
	app *app.App
}

// NewHandlers creates handlers for a.
func NewHandlers(a *app.App) *Handlers { return &Handlers{app: a} }

// HandleRequest implements phonon_request.
func (h *Handlers) HandleRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	material, _ := req.GetArguments()["material"].(string)
	if strings.TrimSpace(material) == "" {
		return errorResult("material argument is required"), nil
	}
	m := h.app.Machine
	items, err := m.Request(ctx, strings.TrimSpace(material))
	if err != nil {
		return errorResult(describeError(err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Prerequisites for %s:\n\n", material)
	b.WriteString(tui.ItemsTable(items))
	switch m.State() {
	case orchestrator.StateAwaitingRemediation:
		b.WriteString("\nSome prerequisites are missing. Call phonon_remediate to install them, or phonon_decline_remediation to stop.\n")
	case orchestrator.StateCollecting:
		b.WriteString("\nAll prerequisites are installed. Call phonon_collect with the calculation parameters.\n")
	}
	return textResult(b.String()), nil
}

// HandleRemediate implements phonon_remediate.
func (h *Handlers) HandleRemediate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var names []string
	if raw, _ := req.GetArguments()["items"].(string); raw != "" {
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	m := h.app.Machine
	rems, err := m.Remediate(ctx, names...)
	var b strings.Builder
	if len(rems) > 0 {
		b.WriteString(tui.RemediationsTable(rems))
		for _, r := range rems {
			if !r.Succeeded() && strings.TrimSpace(r.Output) != "" {
				fmt.Fprintf(&b, "\n%s output:\n%s\n", r.Item, r.Output)
			}
		}
	}
	if err != nil {
		b.WriteString("\n" + describeError(err))
		return errorResult(b.String()), nil
	}
	switch m.State() {
	case orchestrator.StateCollecting:
		b.WriteString("\nAll prerequisites are installed. Call phonon_collect with the calculation parameters.\n")
	case orchestrator.StateAwaitingRemediation:
		snap := m.Snapshot()
		b.WriteString("\nStill missing:\n")
		b.WriteString(tui.ItemsTable(prereq.Absent(snap.Items)))
	}
	return textResult(b.String()), nil
}

// HandleDeclineRemediation implements phonon_decline_remediation.
func (h *Handlers) HandleDeclineRemediation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	err := h.app.Machine.DeclineRemediation()
	var perr *orchestrator.PrerequisiteError
	if errors.As(err, &perr) {
		return textResult(fmt.Sprintf("Request ended: %s", perr)), nil
	}
	return errorResult(describeError(err)), nil
}

// HandleCollect implements phonon_collect.
func (h *Handlers) HandleCollect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	answers := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			answers[k] = v
		}
	}

	art, err := h.app.Machine.Collect(answers)
	if err != nil {
		var verrs params.ValidationErrors
		if errors.As(err, &verrs) {
			var b strings.Builder
			b.WriteString("Invalid parameters; correct them and call phonon_collect again:\n")
			for _, e := range verrs {
				fmt.Fprintf(&b, "- %s: %s\n", e.Field, e.Message)
			}
			return errorResult(b.String()), nil
		}
		return errorResult(describeError(err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generated calculation script: %s\n", art.Path)
	fmt.Fprintf(&b, "BLAKE3: %s\n\n", art.Digest)
	b.WriteString("Calculation parameters:\n")
	b.WriteString(art.Parameters.Summary())
	b.WriteString("\nReview the script, then call phonon_approve to submit it or phonon_reject to discard.\n\n")
	b.WriteString(tui.CodeBlock("python", string(art.Content)))
	return textResult(b.String()), nil
}

// HandleApprove implements phonon_approve.
func (h *Handlers) HandleApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handle, err := h.app.Machine.Approve(ctx)
	if err != nil {
		return errorResult(describeError(err)), nil
	}
	return textResult(fmt.Sprintf(
		"Calculation started successfully!\n%s\nProcess ID: %d\nMonitor with: phonon_status (or verdi process show %d)\n",
		handle.Output, handle.PK, handle.PK)), nil
}

// HandleReject implements phonon_reject.
func (h *Handlers) HandleReject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := h.app.Machine
	snap := m.Snapshot()
	if err := m.Reject(); err != nil {
		return errorResult(describeError(err)), nil
	}
	return textResult(fmt.Sprintf("Script rejected and kept at %s.", snap.Artifact.Path)), nil
}

// HandleAbandon implements phonon_abandon.
func (h *Handlers) HandleAbandon(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.app.Machine.Abandon(); err != nil {
		return errorResult(describeError(err)), nil
	}
	return textResult("Request abandoned."), nil
}

// HandleReset implements phonon_reset.
func (h *Handlers) HandleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.app.Machine.Reset(); err != nil {
		return errorResult(describeError(err)), nil
	}
	return textResult("Ready for a new request."), nil
}

// HandleStatus implements phonon_status.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := h.app.Machine
	status, err := m.Poll(ctx)
	if err != nil {
		var unknown *aiida.StatusUnknownError
		if errors.As(err, &unknown) {
			return textResult(fmt.Sprintf("Status unknown (still monitoring): %s", unknown)), nil
		}
		return errorResult(describeError(err)), nil
	}
	snap := m.Snapshot()
	msg := fmt.Sprintf("Process %d: %s (state %s)", snap.Handle.PK, status, snap.State)
	if snap.Process != nil && snap.Process.State != "" {
		msg += fmt.Sprintf("\nAiiDA state: %s", snap.Process.State)
		if snap.Process.HasExitStatus {
			msg += fmt.Sprintf(" [%d]", snap.Process.ExitStatus)
		}
	}
	if snap.Error != "" {
		msg += "\n" + snap.Error
	}
	return textResult(msg), nil
}

// HandleExport implements phonon_export.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, _ := req.GetArguments()["format"].(string)
	if format == "" {
		format = "agr"
	}
	out, err := h.app.Machine.Export(ctx, format)
	if err != nil {
		return errorResult(describeError(err)), nil
	}
	return textResult(out), nil
}

// HandleState implements phonon_state.
func (h *Handlers) HandleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := h.app.Machine
	data, err := json.MarshalIndent(struct {
		orchestrator.Snapshot
		History []orchestrator.Event `json:"history"`
	}{m.Snapshot(), m.History()}, "", "  ")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleCheckPrerequisites implements check_prerequisites.
func (h *Handlers) HandleCheckPrerequisites(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := h.app.Verifier.Verify(ctx)
	if err != nil {
		return errorResult(describeError(err)), nil
	}
	var b strings.Builder
	b.WriteString("AiiDA Prerequisites Check:\n\n")
	b.WriteString(tui.ItemsTable(items))
	if len(prereq.Absent(items)) == 0 {
		b.WriteString("\nAll prerequisites are installed.\n")
	}
	return textResult(b.String()), nil
}

// HandleInstallCode implements install_code.
func (h *Handlers) HandleInstallCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	codeType, _ := req.GetArguments()["code_type"].(string)
	r, ok := h.app.Verifier.Requirement(codeType)
	if !ok || r.Kind != prereq.KindCode {
		return errorResult(fmt.Sprintf("unknown code type %q", codeType)), nil
	}
	rem := h.app.Verifier.Remediate(ctx, codeType)
	if !rem.Succeeded() {
		return errorResult(describeRemediation(rem)), nil
	}
	return textResult(fmt.Sprintf("Code %s installed successfully (%s).", codeType, strings.Join(rem.Argv, " "))), nil
}

// HandleInstallPseudopotentials implements install_pseudopotentials.
func (h *Handlers) HandleInstallPseudopotentials(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	library := stringArg(args, "library", "sssp")
	functional := stringArg(args, "functional", "PBEsol")
	version := stringArg(args, "version", "1.3")

	res, err := h.app.Client.InstallPseudo(ctx, library, functional, version)
	if err != nil {
		return errorResult(fmt.Sprintf("Error installing pseudopotentials: %s", err)), nil
	}
	if !res.OK() {
		return errorResult(fmt.Sprintf("Error installing pseudopotentials (exit code %d):\n%s", res.ExitCode, res.Output())), nil
	}
	return textResult(fmt.Sprintf("Pseudopotentials installed successfully!\n%s", res.Stdout)), nil
}

// HandleCheckCalculationStatus implements check_calculation_status.
func (h *Handlers) HandleCheckCalculationStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := strings.TrimSpace(stringArg(req.GetArguments(), "process_id", ""))
	if raw == "" {
		res, err := h.app.Client.ListProcesses(ctx, 5)
		if err != nil {
			return errorResult(fmt.Sprintf("Error checking status: %s", err)), nil
		}
		if !res.OK() {
			return errorResult(res.Output()), nil
		}
		return textResult(res.Stdout), nil
	}

	pk, err := strconv.Atoi(raw)
	if err != nil || pk <= 0 {
		return errorResult(fmt.Sprintf("process_id must be a positive integer, got %q", raw)), nil
	}
	status, info, err := h.app.Client.Show(ctx, pk)
	if err != nil {
		var unknown *aiida.StatusUnknownError
		if errors.As(err, &unknown) {
			return textResult(fmt.Sprintf("Status: unknown\n\n%s", unknown.Output)), nil
		}
		return errorResult(fmt.Sprintf("Error checking status: %s", err)), nil
	}
	return textResult(fmt.Sprintf("Status: %s\n\n%s", status, info.Raw)), nil
}

func describeError(err error) string {
	if err == nil {
		return ""
	}
	var terr *orchestrator.TransitionError
	if errors.As(err, &terr) {
		return fmt.Sprintf("%s. Call phonon_state to see where the request stands.", terr)
	}
	return err.Error()
}

func describeRemediation(r *prereq.Remediation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error installing %s", r.Item)
	if r.Err != "" {
		fmt.Fprintf(&b, ": %s", r.Err)
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit code %d)", r.ExitCode)
	}
	if r.Err == "" && r.ExitCode == 0 && !r.Present {
		b.WriteString(": installed but still not listed")
	}
	if out := strings.TrimSpace(r.Output); out != "" {
		fmt.Fprintf(&b, "\n%s", out)
	}
	return b.String()
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
