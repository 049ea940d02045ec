package params

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var listing = []string{"phonopy@localhost", "pw-7.3@localhost"}

func collect(t *testing.T, raw map[string]any) (*CalculationParameters, ValidationErrors) {
	t.Helper()
	p, err := NewCollector(Defaults{}).Collect("Si", raw, listing)
	if err == nil {
		return p, nil
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	if p != nil {
		t.Fatal("parameters must be nil when validation fails")
	}
	return nil, verrs
}

func TestCollect_Defaults(t *testing.T) {
	p, verrs := collect(t, map[string]any{"structure_fetch": "mp-149"})
	if verrs != nil {
		t.Fatalf("unexpected errors: %v", verrs)
	}
	if p.Protocol != ProtocolModerate {
		t.Errorf("protocol = %q", p.Protocol)
	}
	if p.KPoints != (Mesh{3, 3, 3}) || p.Supercell != (Mesh{2, 2, 2}) {
		t.Errorf("meshes = %v / %v", p.KPoints, p.Supercell)
	}
	if p.PWCode != "pw-7.3@localhost" || p.PhonopyCode != "phonopy@localhost" {
		t.Errorf("codes = %q / %q", p.PWCode, p.PhonopyCode)
	}
	if p.Structure.Kind != StructureFetch || p.Structure.Source != "mp-149" {
		t.Errorf("structure = %+v", p.Structure)
	}
	if p.Convergence != nil || p.QPath != nil {
		t.Errorf("optional fields should stay unset: %v %v", p.Convergence, p.QPath)
	}
}

func TestCollect_FullAnswers(t *testing.T) {
	p, verrs := collect(t, map[string]any{
		"structure_file": "si.cif",
		"protocol":       "precise",
		"kpoints":        []any{6, 6, 6},
		"supercell":      []any{3, 3, 3},
		"convergence":    map[string]any{"ecutwfc": 60.0},
		"qpath":          []any{"G", "X", "W", "L", "G"},
	})
	if verrs != nil {
		t.Fatalf("unexpected errors: %v", verrs)
	}
	if p.Protocol != ProtocolPrecise || p.KPoints != (Mesh{6, 6, 6}) || p.Supercell != (Mesh{3, 3, 3}) {
		t.Errorf("got %+v", p)
	}
	if p.Convergence["ecutwfc"] != 60 {
		t.Errorf("convergence = %v", p.Convergence)
	}
	if strings.Join(p.QPath, "-") != "G-X-W-L-G" {
		t.Errorf("qpath = %v", p.QPath)
	}
}

func TestCollect_InvalidMesh(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"zero", []any{2, 0, 2}},
		{"negative", []any{2, -1, 2}},
		{"fractional", []any{2, 2.5, 2}},
		{"non-numeric", []any{"two", 2, 2}},
		{"short", []any{2, 2}},
		{"long", []any{2, 2, 2, 2}},
		{"scalar", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verrs := collect(t, map[string]any{
				"structure_fetch": "mp-149",
				"supercell":       tt.value,
			})
			if verrs == nil {
				t.Fatal("expected validation errors")
			}
			if !hasField(verrs, "supercell") {
				t.Errorf("errors do not name supercell: %v", verrs)
			}
		})
	}
}

func TestCollect_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		raw   map[string]any
		field string
	}{
		{"bad protocol", map[string]any{"structure_fetch": "mp-149", "protocol": "ultra"}, "protocol"},
		{"code not installed", map[string]any{"structure_fetch": "mp-149", "pw_code": "pw-6.0@cluster"}, "pw_code"},
		{"phonopy not installed", map[string]any{"structure_fetch": "mp-149", "phonopy_code": "phonopy@cluster"}, "phonopy_code"},
		{"no structure", map[string]any{}, "structure"},
		{"both structures", map[string]any{"structure_fetch": "mp-149", "structure_file": "si.cif"}, "structure"},
		{"unknown convergence key", map[string]any{"structure_fetch": "mp-149", "convergence": map[string]any{"smearing": 0.1}}, "convergence"},
		{"non-positive convergence", map[string]any{"structure_fetch": "mp-149", "convergence": map[string]any{"conv_thr": 0.0}}, "convergence"},
		{"qpath single point", map[string]any{"structure_fetch": "mp-149", "qpath": []any{"G"}}, "qpath"},
		{"qpath empty label", map[string]any{"structure_fetch": "mp-149", "qpath": []any{"G", " "}}, "qpath"},
		{"unknown field", map[string]any{"structure_fetch": "mp-149", "smearing": "mv"}, "answers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verrs := collect(t, tt.raw)
			if verrs == nil {
				t.Fatal("expected validation errors")
			}
			if !hasField(verrs, tt.field) {
				t.Errorf("errors %v do not name %q", verrs.Fields(), tt.field)
			}
		})
	}
}

func TestCollect_ReportsEveryField(t *testing.T) {
	_, verrs := collect(t, map[string]any{
		"structure_fetch": "mp-149",
		"protocol":        "ultra",
		"kpoints":         []any{0, 1, 1},
		"pw_code":         "missing@nowhere",
	})
	for _, f := range []string{"protocol", "kpoints", "pw_code"} {
		if !hasField(verrs, f) {
			t.Errorf("missing error for %s in %v", f, verrs.Fields())
		}
	}
}

func TestCollect_EmptyListing(t *testing.T) {
	_, err := NewCollector(Defaults{}).Collect("Si", map[string]any{"structure_fetch": "mp-149"}, nil)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || !hasField(verrs, "pw_code") {
		t.Fatalf("expected pw_code error, got %v", err)
	}
}

func TestNewCollector_OverridesDefaults(t *testing.T) {
	c := NewCollector(Defaults{Protocol: ProtocolFast, KPoints: Mesh{4, 4, 4}})
	p, err := c.FromAnswers("Si", Answers{StructureFetch: "mp-149"}, listing)
	if err != nil {
		t.Fatal(err)
	}
	if p.Protocol != ProtocolFast || p.KPoints != (Mesh{4, 4, 4}) || p.Supercell != (Mesh{2, 2, 2}) {
		t.Errorf("got %+v", p)
	}
}

func TestFromAnswers_EmptyMaterial(t *testing.T) {
	_, err := NewCollector(Defaults{}).FromAnswers("  ", Answers{StructureFetch: "mp-149"}, listing)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || !hasField(verrs, "material") {
		t.Fatalf("expected material error, got %v", err)
	}
}

func TestLoadAnswersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.yaml")
	content := "structure_fetch: mp-149\nkpoints: [4, 4, 4]\nprotocol: fast\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	raw, err := LoadAnswersFile(path)
	if err != nil {
		t.Fatal(err)
	}
	p, verrs := collect(t, raw)
	if verrs != nil {
		t.Fatalf("unexpected errors: %v", verrs)
	}
	if p.KPoints != (Mesh{4, 4, 4}) || p.Protocol != ProtocolFast {
		t.Errorf("got %+v", p)
	}
}

func TestGenerateAnswersJSONSchema(t *testing.T) {
	data, err := GenerateAnswersJSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"structure_fetch", "kpoints", "qpath"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestSummary(t *testing.T) {
	p, _ := collect(t, map[string]any{"structure_fetch": "mp-149"})
	s := p.Summary()
	for _, want := range []string{"Si", "moderate", "3x3x3", "pw-7.3@localhost"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary %q missing %q", s, want)
		}
	}
}

func hasField(errs ValidationErrors, field string) bool {
	for _, f := range errs.Fields() {
		if f == field {
			return true
		}
	}
	return false
}
