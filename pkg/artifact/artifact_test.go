package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/phonon/pkg/params"
)

var fixed = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func silicon() *params.CalculationParameters {
	return &params.CalculationParameters{
		Material:    "Si",
		Structure:   params.Structure{Kind: params.StructureFetch, Source: "mp-149"},
		Protocol:    params.ProtocolModerate,
		KPoints:     params.Mesh{3, 3, 3},
		Supercell:   params.Mesh{2, 2, 2},
		PWCode:      "pw-7.3@localhost",
		PhonopyCode: "phonopy@localhost",
	}
}

func newGen(t *testing.T) *Generator {
	t.Helper()
	return NewGenerator(Options{Dir: t.TempDir(), Now: func() time.Time { return fixed }})
}

func TestDefaultTemplate_MatchesFields(t *testing.T) {
	tmpl := DefaultTemplate()
	if tmpl.Name != DefaultTemplateName {
		t.Errorf("name = %q", tmpl.Name)
	}
}

func TestGenerate_SiliconScenario(t *testing.T) {
	g := newGen(t)
	art, err := g.Generate(silicon(), nil)
	if err != nil {
		t.Fatal(err)
	}
	name := filepath.Base(art.Path)
	if !regexp.MustCompile(`^phonon_calculation_Si_\d{8}_\d{6}\.py$`).MatchString(name) {
		t.Errorf("unexpected file name %q", name)
	}
	if name != "phonon_calculation_Si_20260314_092653.py" {
		t.Errorf("name = %q", name)
	}

	info, err := os.Stat(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}
	onDisk, _ := os.ReadFile(art.Path)
	if !bytes.Equal(onDisk, art.Content) {
		t.Error("content differs from file")
	}
	for _, want := range []string{
		`MATERIAL = "Si"`,
		`STRUCTURE_SOURCE = "mp-149"`,
		`KPOINTS = [3,3,3]`,
		`SUPERCELL = [2,2,2]`,
		`CONVERGENCE = None`,
		`QPATH = None`,
		"submit(builder)",
		"PK: {calc.pk}",
	} {
		if !strings.Contains(string(art.Content), want) {
			t.Errorf("content missing %q", want)
		}
	}
}

func TestGenerate_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		mod  func(p *params.CalculationParameters)
	}{
		{"defaults", func(p *params.CalculationParameters) {}},
		{"file structure", func(p *params.CalculationParameters) {
			p.Structure = params.Structure{Kind: params.StructureFile, Source: "/data/Si mp-149 \"prim\".cif"}
		}},
		{"overrides", func(p *params.CalculationParameters) {
			p.Protocol = params.ProtocolPrecise
			p.KPoints = params.Mesh{8, 8, 6}
			p.Convergence = map[string]float64{"ecutwfc": 60, "conv_thr": 1e-10}
			p.QPath = []string{"G", "X", "W", "K", "G", "L"}
		}},
		{"odd material", func(p *params.CalculationParameters) { p.Material = "Ga<As> = 1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := silicon()
			tt.mod(p)
			art, err := newGen(t).Generate(p, nil)
			if err != nil {
				t.Fatal(err)
			}
			back, err := ParseParameters(art.Content)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(back, p) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, p)
			}
		})
	}
}

func TestRender_ByteIdentical(t *testing.T) {
	a, err := Render(silicon(), DefaultTemplate())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Render(silicon(), DefaultTemplate())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("equal parameters rendered different content")
	}

	g1 := NewGenerator(Options{Dir: t.TempDir(), Now: func() time.Time { return fixed }})
	g2 := NewGenerator(Options{Dir: t.TempDir(), Now: func() time.Time { return fixed.Add(time.Hour) }})
	a1, _ := g1.Generate(silicon(), nil)
	a2, _ := g2.Generate(silicon(), nil)
	if a1.Digest != a2.Digest {
		t.Error("digest depends on generation time")
	}
}

func TestParseTemplate_PlaceholderMismatch(t *testing.T) {
	base := DefaultTemplate().Text

	t.Run("unknown placeholder", func(t *testing.T) {
		_, err := ParseTemplate("x", base+"\n# {{ .temperature }}\n")
		var te *TemplateError
		if !errors.As(err, &te) {
			t.Fatalf("expected TemplateError, got %v", err)
		}
		if len(te.Unknown) != 1 || te.Unknown[0] != "temperature" {
			t.Errorf("unknown = %v", te.Unknown)
		}
	})

	t.Run("missing placeholder", func(t *testing.T) {
		text := strings.Replace(base, "QPATH = {{ .qpath }}", "QPATH = None", 1)
		_, err := ParseTemplate("x", text)
		var te *TemplateError
		if !errors.As(err, &te) {
			t.Fatalf("expected TemplateError, got %v", err)
		}
		if len(te.Missing) != 1 || te.Missing[0] != "qpath" {
			t.Errorf("missing = %v", te.Missing)
		}
	})

	t.Run("nested reference counts", func(t *testing.T) {
		text := strings.Replace(base, "QPATH = {{ .qpath }}", "QPATH = {{ if .qpath }}{{ $.qpath }}{{ end }}", 1)
		if _, err := ParseTemplate("x", text); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := ParseTemplate("x", "{{ .material ")
		var te *TemplateError
		if !errors.As(err, &te) || te.Err == nil {
			t.Fatalf("expected wrapped parse error, got %v", err)
		}
	})
}

func TestRender_TemplateWithoutBlock(t *testing.T) {
	var refs []string
	for _, f := range Fields {
		refs = append(refs, "{{ ."+f+" }}")
	}
	tmpl, err := ParseTemplate("bare", strings.Join(refs, "\n"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = Render(silicon(), tmpl)
	var te *TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("expected TemplateError, got %v", err)
	}
}

func TestGenerate_NameCollisionGetsSuffix(t *testing.T) {
	g := newGen(t)
	first, err := g.Generate(silicon(), nil)
	if err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(first.Path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Generate(silicon(), nil)
	if err != nil {
		t.Fatal(err)
	}
	third, err := g.Generate(silicon(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(second.Path) != "phonon_calculation_Si_20260314_092653_2.py" ||
		filepath.Base(third.Path) != "phonon_calculation_Si_20260314_092653_3.py" {
		t.Errorf("paths = %s, %s", second.Path, third.Path)
	}
	if second.ManifestPath != second.Path+".manifest.json" {
		t.Errorf("manifest = %s", second.ManifestPath)
	}
	after, err := os.ReadFile(first.Path)
	if err != nil || !bytes.Equal(before, after) {
		t.Errorf("first script changed: %v", err)
	}
}

func TestGenerate_ManifestFailureRemovesScript(t *testing.T) {
	g := newGen(t)
	script := filepath.Join(g.Dir(), FileName("Si", fixed))
	// a directory in the manifest's place makes the write fail
	if err := os.Mkdir(script+".manifest.json", 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(silicon(), nil); err == nil {
		t.Fatal("expected manifest error")
	}
	if _, err := os.Stat(script); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("script left behind: %v", err)
	}
}

func TestRecordPK(t *testing.T) {
	art, err := newGen(t).Generate(silicon(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, pk := range []int{1234, 1240} {
		path, err := RecordPK(art.Path, pk)
		if err != nil {
			t.Fatal(err)
		}
		if path != filepath.Join(filepath.Dir(art.Path), LastPKFile) {
			t.Errorf("path = %s", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("%d\n", pk); string(data) != want {
			t.Errorf("content = %q, want %q", data, want)
		}
	}
}

func TestGenerate_Manifest(t *testing.T) {
	art, err := newGen(t).Generate(silicon(), nil)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(art.ManifestPath)
	if err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Digest != art.Digest || len(m.Digest) != 64 {
		t.Errorf("digest = %q, artifact %q", m.Digest, art.Digest)
	}
	if m.Script != filepath.Base(art.Path) || !m.CreatedAt.Equal(fixed) {
		t.Errorf("manifest = %+v", m)
	}
	if !reflect.DeepEqual(m.Parameters, silicon()) {
		t.Errorf("parameters = %+v", m.Parameters)
	}
}

func TestParseParameters_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no block", "print('hi')\n"},
		{"unterminated", blockStart + "\nMATERIAL = \"Si\"\n"},
		{"missing field", blockStart + "\nMATERIAL = \"Si\"\n" + blockEnd + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseParameters([]byte(tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFileName_Sanitizes(t *testing.T) {
	got := FileName("Ga As/../x", fixed)
	if got != "phonon_calculation_Ga_As_x_20260314_092653.py" {
		t.Errorf("got %q", got)
	}
}
