package aiida

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ormasoftchile/phonon/pkg/runner"
)

const codeListing = `Full label              Pk  Entry point
----------------------  ----  -------------------
pw-7.3@localhost           1  core.code.installed
phonopy@localhost          2  core.code.installed
`

func TestParseCodeLabels(t *testing.T) {
	got := ParseCodeLabels(codeListing)
	want := []string{"phonopy@localhost", "pw-7.3@localhost"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("labels = %v, want %v", got, want)
	}
}

func TestParseCodeLabels_LegacyFormat(t *testing.T) {
	out := "# List of configured codes:\n* pk 1 - pw-7.3@thor\n* pk 2 - pw-7.3@thor\n"
	got := ParseCodeLabels(out)
	if len(got) != 1 || got[0] != "pw-7.3@thor" {
		t.Errorf("labels = %v", got)
	}
}

func TestParsePK(t *testing.T) {
	tests := []struct {
		out  string
		want int
		ok   bool
	}{
		{"Submitting calculation...\nCalculation submitted with PK: 1234\n", 1234, true},
		{"Calculation submitted with PID: 77", 77, true},
		{"launched pk: 9 (uuid 1a2b)", 9, true},
		{"no identifier here 123", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePK(tt.out)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParsePK(%q) = (%d, %v), want (%d, %v)", tt.out, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseProcessInfo(t *testing.T) {
	out := `Property     Value
-----------  ------------------------------------
type         PhononWorkChain
state        Finished [0]
pk           1234
`
	info, ok := ParseProcessInfo(out)
	if !ok {
		t.Fatal("expected parse")
	}
	if info.State != "Finished" || info.ExitStatus != 0 || !info.HasExitStatus {
		t.Errorf("info = %+v", info)
	}
	if info.Type != "PhononWorkChain" {
		t.Errorf("type = %q", info.Type)
	}
}

func TestParseProcessInfo_NoExitStatus(t *testing.T) {
	info, ok := ParseProcessInfo("state        WAITING\n")
	if !ok {
		t.Fatal("expected parse")
	}
	if info.State != "Waiting" || info.HasExitStatus || info.ExitStatus != -1 {
		t.Errorf("info = %+v", info)
	}
}

func TestParseProcessInfo_Garbage(t *testing.T) {
	if _, ok := ParseProcessInfo("Traceback (most recent call last):\n  boom"); ok {
		t.Error("expected no parse")
	}
}

func TestClassifier_DefaultRules(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		info ProcessInfo
		want Status
	}{
		{ProcessInfo{State: "Finished", ExitStatus: 0, HasExitStatus: true}, StatusFinished},
		{ProcessInfo{State: "Finished", ExitStatus: 401, HasExitStatus: true}, StatusFailed},
		{ProcessInfo{State: "Finished", ExitStatus: -1}, StatusUnknown},
		{ProcessInfo{State: "Excepted", ExitStatus: -1}, StatusFailed},
		{ProcessInfo{State: "Killed", ExitStatus: -1}, StatusFailed},
		{ProcessInfo{State: "Running", ExitStatus: -1}, StatusRunning},
		{ProcessInfo{State: "Waiting", ExitStatus: -1}, StatusRunning},
		{ProcessInfo{State: "Created", ExitStatus: -1}, StatusSubmitted},
		{ProcessInfo{State: "Sleeping", ExitStatus: -1}, StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.info.State, func(t *testing.T) {
			info := tt.info
			got, err := c.Classify(&info)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Classify(%+v) = %s, want %s", tt.info, got, tt.want)
			}
		})
	}
}

func TestNewClassifier_Invalid(t *testing.T) {
	if _, err := NewClassifier([]Rule{{Status: StatusFinished, When: `state ==`}}); err == nil {
		t.Error("expected compile error")
	}
	if _, err := NewClassifier([]Rule{{Status: StatusUnknown, When: `true`}}); err == nil {
		t.Error("expected error for unknown status rule")
	}
	if _, err := NewClassifier([]Rule{{Status: StatusRunning, When: `state`}}); err == nil {
		t.Error("expected error for non-bool rule")
	}
}

func TestClientRun(t *testing.T) {
	s := runner.NewScripted().On("verdi run", runner.Response{Stdout: "Submitting calculation...\nCalculation submitted with PK: 4321\n"})
	c := NewClient(s)
	pk, res, err := c.Run(context.Background(), "/tmp/x.py")
	if err != nil {
		t.Fatal(err)
	}
	if pk != 4321 {
		t.Errorf("pk = %d", pk)
	}
	if got := strings.Join(res.Argv, " "); got != "verdi run /tmp/x.py" {
		t.Errorf("argv = %q", got)
	}
}

func TestClientRun_Failures(t *testing.T) {
	tests := []struct {
		name string
		resp runner.Response
	}{
		{"non-zero exit", runner.Response{ExitCode: 1, Stderr: "ImportError: aiida_vibroscopy"}},
		{"no pk", runner.Response{Stdout: "done"}},
		{"cannot start", runner.Response{Err: errors.New("exec: \"verdi\": not found")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(runner.NewScripted().On("verdi run", tt.resp))
			_, _, err := c.Run(context.Background(), "x.py")
			var ee *ExecutionError
			if !errors.As(err, &ee) {
				t.Fatalf("err = %v, want *ExecutionError", err)
			}
		})
	}
}

func TestClientRun_FailureCarriesOutputVerbatim(t *testing.T) {
	c := NewClient(runner.NewScripted().On("verdi run", runner.Response{ExitCode: 2, Stderr: "Profile not found"}))
	_, _, err := c.Run(context.Background(), "x.py")
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatal(err)
	}
	if ee.Output != "Profile not found" || ee.ExitCode != 2 {
		t.Errorf("ee = %+v", ee)
	}
}

func TestClientShow(t *testing.T) {
	s := runner.NewScripted().On("verdi process show 12", runner.Response{Stdout: "state        Running\n"})
	status, info, err := NewClient(s).Show(context.Background(), 12)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusRunning || info.State != "Running" {
		t.Errorf("status = %s, info = %+v", status, info)
	}
}

func TestClientShow_Unparseable(t *testing.T) {
	s := runner.NewScripted().On("verdi process show", runner.Response{Stdout: "???"})
	status, _, err := NewClient(s).Show(context.Background(), 12)
	var sue *StatusUnknownError
	if !errors.As(err, &sue) {
		t.Fatalf("err = %v, want *StatusUnknownError", err)
	}
	if status != StatusUnknown {
		t.Errorf("status = %s", status)
	}
}

func TestClientShow_NonZeroExit(t *testing.T) {
	s := runner.NewScripted().On("verdi process show", runner.Response{ExitCode: 1, Stderr: "no such entity"})
	_, _, err := NewClient(s).Show(context.Background(), 12)
	if err == nil {
		t.Fatal("expected error")
	}
	var sue *StatusUnknownError
	if errors.As(err, &sue) {
		t.Error("non-zero exit must not be reported as unknown status")
	}
}

func TestClientCustomCommands(t *testing.T) {
	s := runner.NewScripted().On("/opt/aiida/bin/verdi code list", runner.Response{Stdout: codeListing})
	c := NewClient(s, WithCommands(Commands{ListCodes: []string{"/opt/aiida/bin/verdi", "code", "list"}}))
	if _, err := c.ListCodes(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.Commands().Run[0]; got != "verdi" {
		t.Errorf("unset entries keep defaults, got run[0] = %q", got)
	}
}

func TestClientExportPassthrough(t *testing.T) {
	data := "# agr export\n@ xaxis\n0.0 1.0\n"
	s := runner.NewScripted().On("verdi data core.bands export --format agr 7", runner.Response{Stdout: data})
	got, err := NewClient(s).Export(context.Background(), 7, "agr")
	if err != nil {
		t.Fatal(err)
	}
	if got != data {
		t.Errorf("export = %q, want unmodified %q", got, data)
	}
}

func TestClientListProcessesDefaultDays(t *testing.T) {
	s := runner.NewScripted().On("verdi process list -p 5 -a", runner.Response{Stdout: "PK  Created"})
	if _, err := NewClient(s).ListProcesses(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
}
