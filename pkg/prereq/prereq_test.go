package prereq

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/runner"
)

const (
	allCodes   = "pw-7.3@localhost  1  core.code.installed\nphonopy@localhost  2  core.code.installed\n"
	onlyPW     = "pw-7.3@localhost  1  core.code.installed\n"
	pseudoList = "Label                                Type string                Count\nSSSP/1.3/PBEsol/efficiency           pseudo.family.sssp         85\n"
)

func newVerifier(t *testing.T, s *runner.Scripted, dirs ...string) *Verifier {
	t.Helper()
	return New(aiida.NewClient(s), Config{SearchDirs: dirs})
}

func TestVerify_AllPresent(t *testing.T) {
	s := runner.NewScripted().
		On("verdi code list", runner.Response{Stdout: allCodes}).
		On("aiida-pseudo list", runner.Response{Stdout: pseudoList})

	v := newVerifier(t, s)
	items, err := v.Verify(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if absent := Absent(items); len(absent) != 0 {
		t.Errorf("absent = %+v", absent)
	}
	if got := v.Listing(); len(got) != 2 || got[0] != "phonopy@localhost" {
		t.Errorf("listing = %v", got)
	}
	// one listing call per tool
	if s.CountPrefix("verdi code list") != 1 || s.CountPrefix("aiida-pseudo list") != 1 {
		t.Errorf("calls = %v", s.Calls())
	}
}

func TestVerify_PhonopyAbsentFlagsExactlyOne(t *testing.T) {
	s := runner.NewScripted().
		On("verdi code list", runner.Response{Stdout: onlyPW}).
		On("aiida-pseudo list", runner.Response{Stdout: pseudoList})

	items, err := newVerifier(t, s).Verify(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	absent := Absent(items)
	if len(absent) != 1 || absent[0].Name != "phonopy" {
		t.Fatalf("absent = %+v, want only phonopy", absent)
	}
	if !strings.Contains(absent[0].Remediation, "--config phonopy.yaml") {
		t.Errorf("remediation = %q", absent[0].Remediation)
	}
}

func TestVerify_ListingFailureIsConfigurationError(t *testing.T) {
	tests := []struct {
		name string
		resp runner.Response
	}{
		{"not installed", runner.Response{Err: exec.ErrNotFound}},
		{"no profile", runner.Response{ExitCode: 1, Stderr: "Critical: no default profile"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := runner.NewScripted().On("verdi code list", tt.resp)
			_, err := newVerifier(t, s).Verify(context.Background())
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigurationError", err)
			}
			if ce.Dependency != "verdi" {
				t.Errorf("dependency = %q, want verdi", ce.Dependency)
			}
		})
	}
}

func TestVerify_PseudoListingFailureNamesAiidaPseudo(t *testing.T) {
	s := runner.NewScripted().
		On("verdi code list", runner.Response{Stdout: allCodes}).
		On("aiida-pseudo list", runner.Response{Err: exec.ErrNotFound})
	_, err := newVerifier(t, s).Verify(context.Background())
	var ce *ConfigurationError
	if !errors.As(err, &ce) || ce.Dependency != "aiida-pseudo" {
		t.Fatalf("err = %v", err)
	}
}

func TestRemediate_Code(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "phonopy.yaml"), []byte("label: phonopy\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := runner.NewScripted().
		On("verdi code create", runner.Response{Stdout: "Success: Created InstalledCode<3>"}).
		On("verdi code list", runner.Response{Stdout: allCodes})

	rem := newVerifier(t, s, dir).Remediate(context.Background(), "phonopy")
	if !rem.Succeeded() {
		t.Fatalf("remediation = %+v", rem)
	}
	wantCfg := filepath.Join(cfgDir, "phonopy.yaml")
	if !strings.Contains(strings.Join(rem.Argv, " "), "--config "+wantCfg) {
		t.Errorf("argv = %v, want config %s", rem.Argv, wantCfg)
	}
}

func TestRemediate_FailureOutputVerbatim(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pw-7.3.yaml"), []byte("label: pw-7.3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := runner.NewScripted().
		On("verdi code create", runner.Response{ExitCode: 1, Stderr: "Error: computer 'localhost' not found"})

	rem := newVerifier(t, s, dir).Remediate(context.Background(), "pw")
	if rem.Succeeded() {
		t.Fatal("expected failure")
	}
	if rem.Output != "Error: computer 'localhost' not found" {
		t.Errorf("output = %q", rem.Output)
	}
	if s.CountPrefix("verdi code list") != 0 {
		t.Error("re-check must not run after a failed install")
	}
}

func TestRemediate_Library(t *testing.T) {
	s := runner.NewScripted().
		On("aiida-pseudo install sssp -x PBEsol -v 1.3", runner.Response{Stdout: "Success"}).
		On("aiida-pseudo list", runner.Response{Stdout: pseudoList})

	rem := newVerifier(t, s).Remediate(context.Background(), "PBEsol")
	if !rem.Succeeded() {
		t.Fatalf("remediation = %+v", rem)
	}
}

func TestRemediate_InstalledButStillAbsent(t *testing.T) {
	s := runner.NewScripted().
		On("aiida-pseudo install", runner.Response{Stdout: "Success"}).
		On("aiida-pseudo list", runner.Response{Stdout: "nothing here"})

	rem := newVerifier(t, s).Remediate(context.Background(), "PBEsol")
	if rem.Succeeded() || rem.Present {
		t.Fatalf("remediation = %+v, want absent after re-check", rem)
	}
}

func TestRemediate_MissingConfigFile(t *testing.T) {
	s := runner.NewScripted()
	rem := newVerifier(t, s, t.TempDir()).Remediate(context.Background(), "pw")
	if rem.Err == "" {
		t.Fatal("expected error for missing config file")
	}
	if len(s.Calls()) != 0 {
		t.Errorf("no command should run, got %v", s.Calls())
	}
}

func TestRemediate_Unknown(t *testing.T) {
	rem := newVerifier(t, runner.NewScripted()).Remediate(context.Background(), "cp2k")
	if rem.Err == "" {
		t.Error("expected error for unknown item")
	}
}

func TestLocateConfig_PatternAndOrder(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	for _, p := range []string{
		filepath.Join(second, "pw-7.3.yaml"),
		filepath.Join(first, "nested", "deeper", "pw-7.2.yaml"),
		filepath.Join(first, "nested", "pw-7.3.yaml"),
	} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	v := newVerifier(t, runner.NewScripted(), first, second)

	got, err := v.LocateConfig("pw-7.3.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(first, "nested", "pw-7.3.yaml"); got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	got, err = v.LocateConfig("pw-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(first, "nested", "deeper", "pw-7.2.yaml"); got != want {
		t.Errorf("pattern: got %s, want %s", got, want)
	}
}

func TestCheck_UpdatesListing(t *testing.T) {
	s := runner.NewScripted().On("verdi code list", runner.Response{Stdout: onlyPW}, runner.Response{Stdout: allCodes})
	v := newVerifier(t, s)

	it, err := v.Check(context.Background(), "phonopy")
	if err != nil {
		t.Fatal(err)
	}
	if it.Present {
		t.Error("phonopy should be absent on first listing")
	}
	it, err = v.Check(context.Background(), "phonopy")
	if err != nil {
		t.Fatal(err)
	}
	if !it.Present || len(v.Listing()) != 2 {
		t.Errorf("item = %+v, listing = %v", it, v.Listing())
	}
}
