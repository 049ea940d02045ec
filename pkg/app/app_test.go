package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ormasoftchile/phonon/pkg/config"
	"github.com/ormasoftchile/phonon/pkg/orchestrator"
	"github.com/ormasoftchile/phonon/pkg/runner"
	"github.com/ormasoftchile/phonon/pkg/trace"
)

func TestNew_WiresTraceAndCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WorkDir = dir
	cfg.TraceFile = filepath.Join(dir, "trace.jsonl")
	cfg.Verdi = "/opt/verdi"

	s := runner.NewScripted().
		On("/opt/verdi code list", runner.Response{Stdout: "pw-7.3@localhost\nphonopy@localhost\n"}).
		On("aiida-pseudo list", runner.Response{Stdout: "SSSP/1.3/PBEsol/efficiency\n"})

	a, err := New(cfg, s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Machine.Request(context.Background(), "Si"); err != nil {
		t.Fatal(err)
	}
	if a.Machine.State() != orchestrator.StateCollecting {
		t.Errorf("state = %s", a.Machine.State())
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := trace.ReadFile(cfg.TraceFile)
	if err != nil {
		t.Fatal(err)
	}
	var commands int
	for _, e := range events {
		if e.Type == trace.EventCommand {
			commands++
		}
	}
	if commands != 2 {
		t.Errorf("command events = %d, want 2", commands)
	}
}

func TestNew_BadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.tmpl")
	os.WriteFile(path, []byte("print({{ .material }})\n"), 0o644)
	cfg := config.Default()
	cfg.Template = path
	if _, err := New(cfg, runner.NewScripted(), nil); err == nil {
		t.Fatal("expected template error")
	}
}

// splitExec runs sh for real and answers everything else from a script.
type splitExec struct {
	real     runner.CommandExecutor
	scripted *runner.Scripted
}

func (e *splitExec) Execute(ctx context.Context, argv []string) (*runner.Result, error) {
	if len(argv) > 0 && argv[0] == "sh" {
		return e.real.Execute(ctx, argv)
	}
	return e.scripted.Execute(ctx, argv)
}

func TestNew_RelativeWorkDir(t *testing.T) {
	t.Chdir(t.TempDir())
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile("phonopy.yaml", []byte("label: phonopy\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.WorkDir = "runs"
	cfg.Commands.Run = []string{"sh", "-c", `test -f "$1" && echo "Calculation submitted with PK: 7"`, "sh", "{{ .script }}"}
	exec := &splitExec{scripted: runner.NewScripted().
		On("verdi code list", runner.Response{Stdout: "pw-7.3@localhost\nphonopy@localhost\n"}).
		On("aiida-pseudo list", runner.Response{Stdout: "SSSP/1.3/PBEsol/efficiency\n"})}

	a, err := New(cfg, exec, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.Config.WorkDir != filepath.Join(wd, "runs") {
		t.Fatalf("workdir = %q", a.Config.WorkDir)
	}
	if err := os.MkdirAll(a.Config.WorkDir, 0o755); err != nil {
		t.Fatal(err)
	}
	exec.real = &runner.Exec{Dir: a.Config.WorkDir}

	ctx := context.Background()
	if _, err := a.Machine.Request(ctx, "Si"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Machine.Collect(map[string]any{"structure_fetch": "mp-149"}); err != nil {
		t.Fatal(err)
	}
	h, err := a.Machine.Approve(ctx)
	if err != nil {
		t.Fatalf("approve: %v (cause %v)", err, a.Machine.Cause())
	}
	if h.PK != 7 || !filepath.IsAbs(h.Script) {
		t.Errorf("handle = %+v", h)
	}

	cfgPath, err := a.Verifier.LocateConfig("phonopy.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfgPath != filepath.Join(wd, "phonopy.yaml") {
		t.Errorf("code config = %q, want absolute path", cfgPath)
	}
}
