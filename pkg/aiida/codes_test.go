package aiida

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMarshalCodeConfigs(t *testing.T) {
	data, err := MarshalCodeConfigs(DefaultCodeConfigs())
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"# pw-7.3.yaml", "# phonopy.yaml", "---\n", "default_calc_job_plugin: quantumespresso.pw", "label: phonopy"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteAndLoadCodeConfigs(t *testing.T) {
	dir := t.TempDir()
	written, err := WriteCodeConfigs(dir, DefaultCodeConfigs())
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 2 {
		t.Fatalf("written = %v", written)
	}
	cfg, err := LoadCodeConfig(filepath.Join(dir, "pw-7.3.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FullLabel() != "pw-7.3@localhost" {
		t.Errorf("label = %q", cfg.FullLabel())
	}

	// existing files are left alone
	again, err := WriteCodeConfigs(dir, DefaultCodeConfigs())
	if err != nil || len(again) != 0 {
		t.Errorf("second write = %v, %v", again, err)
	}
}

func TestLoadCodeConfig_Strict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("label: pw\ncomputer: localhost\nexecutable: /bin/pw.x\n"), 0o644)
	if _, err := LoadCodeConfig(path); err == nil {
		t.Error("expected unknown-field error")
	}
}
