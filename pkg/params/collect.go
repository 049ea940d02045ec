package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults are applied when an optional answer is missing.
type Defaults struct {
	Protocol    Protocol `yaml:"protocol,omitempty"     json:"protocol,omitempty"     jsonschema:"enum=fast,enum=moderate,enum=precise"`
	KPoints     Mesh     `yaml:"kpoints,omitempty"      json:"kpoints"`
	Supercell   Mesh     `yaml:"supercell,omitempty"    json:"supercell"`
	PWCode      string   `yaml:"pw_code,omitempty"      json:"pw_code,omitempty"`
	PhonopyCode string   `yaml:"phonopy_code,omitempty" json:"phonopy_code,omitempty"`
}

// DefaultDefaults mirrors the stock values of the phonon workflow tools.
func DefaultDefaults() Defaults {
	return Defaults{
		Protocol:    ProtocolModerate,
		KPoints:     Mesh{3, 3, 3},
		Supercell:   Mesh{2, 2, 2},
		PWCode:      "pw-7.3@localhost",
		PhonopyCode: "phonopy@localhost",
	}
}

// Collector validates answers against the parameter schema. It performs no
// I/O.
type Collector struct {
	defaults Defaults
}

// NewCollector creates a collector; zero-valued defaults fall back to
// DefaultDefaults field by field.
func NewCollector(d Defaults) *Collector {
	def := DefaultDefaults()
	if d.Protocol != "" {
		def.Protocol = d.Protocol
	}
	if d.KPoints != (Mesh{}) {
		def.KPoints = d.KPoints
	}
	if d.Supercell != (Mesh{}) {
		def.Supercell = d.Supercell
	}
	if d.PWCode != "" {
		def.PWCode = d.PWCode
	}
	if d.PhonopyCode != "" {
		def.PhonopyCode = d.PhonopyCode
	}
	return &Collector{defaults: def}
}

// Defaults returns the effective defaults.
func (c *Collector) Defaults() Defaults { return c.defaults }

// Collect validates a free-form answers document (as decoded from JSON or
// YAML) and returns parameters, or ValidationErrors naming every offending
// field. listing is the verifier's most recent code listing.
func (c *Collector) Collect(material string, raw map[string]any, listing []string) (*CalculationParameters, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	serrs := checkStructure(raw)

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, append(serrs, invalidf("answers", "encode: %s", err))
	}
	var a Answers
	if err := json.Unmarshal(data, &a); err != nil {
		// Type mismatches leave nothing to check the domain rules against.
		if len(serrs) > 0 {
			return nil, serrs
		}
		return nil, ValidationErrors{invalidf("answers", "decode: %s", err)}
	}

	p, err := c.FromAnswers(material, a, listing)
	if len(serrs) == 0 {
		return p, err
	}
	var derrs ValidationErrors
	errors.As(err, &derrs)
	return nil, mergeErrors(serrs, derrs)
}

// mergeErrors appends domain errors for fields the schema did not already
// flag.
func mergeErrors(schema, domain ValidationErrors) ValidationErrors {
	flagged := make(map[string]bool, len(schema))
	for _, e := range schema {
		flagged[e.Field] = true
	}
	out := schema
	for _, e := range domain {
		if !flagged[e.Field] {
			out = append(out, e)
		}
	}
	return out
}

// FromAnswers applies defaults and domain rules to typed answers.
func (c *Collector) FromAnswers(material string, a Answers, listing []string) (*CalculationParameters, error) {
	var errs ValidationErrors

	material = strings.TrimSpace(material)
	if material == "" {
		errs = append(errs, invalidf("material", "must not be empty"))
	}

	var st Structure
	file, fetch := strings.TrimSpace(a.StructureFile), strings.TrimSpace(a.StructureFetch)
	switch {
	case file != "" && fetch != "":
		errs = append(errs, invalidf("structure", "give either structure_file or structure_fetch, not both"))
	case file != "":
		st = Structure{Kind: StructureFile, Source: file}
	case fetch != "":
		st = Structure{Kind: StructureFetch, Source: fetch}
	default:
		errs = append(errs, invalidf("structure", "structure_file or structure_fetch is required"))
	}

	protocol := c.defaults.Protocol
	if a.Protocol != "" {
		protocol = Protocol(a.Protocol)
	}
	if !protocol.Valid() {
		errs = append(errs, invalidf("protocol", "%q is not one of %v", protocol, Protocols))
	}

	kpoints, kerrs := mesh("kpoints", a.KPoints, c.defaults.KPoints)
	errs = append(errs, kerrs...)
	supercell, serrs := mesh("supercell", a.Supercell, c.defaults.Supercell)
	errs = append(errs, serrs...)

	pw := firstNonEmpty(a.PWCode, c.defaults.PWCode)
	phonopy := firstNonEmpty(a.PhonopyCode, c.defaults.PhonopyCode)
	if err := checkCode("pw_code", pw, listing); err != nil {
		errs = append(errs, err)
	}
	if err := checkCode("phonopy_code", phonopy, listing); err != nil {
		errs = append(errs, err)
	}

	var conv map[string]float64
	if len(a.Convergence) > 0 {
		conv = make(map[string]float64, len(a.Convergence))
		for k, v := range a.Convergence {
			if !knownConvergenceKey(k) {
				errs = append(errs, invalidf("convergence", "unknown override %q (known: %v)", k, ConvergenceKeys))
				continue
			}
			if v <= 0 {
				errs = append(errs, invalidf("convergence", "%s must be positive, got %g", k, v))
				continue
			}
			conv[k] = v
		}
	}

	var qpath []string
	if len(a.QPath) > 0 {
		if len(a.QPath) < 2 {
			errs = append(errs, invalidf("qpath", "needs at least two points, got %d", len(a.QPath)))
		}
		for i, label := range a.QPath {
			label = strings.TrimSpace(label)
			if label == "" {
				errs = append(errs, invalidf("qpath", "point %d is empty", i))
			}
			qpath = append(qpath, label)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &CalculationParameters{
		Material:    material,
		Structure:   st,
		Protocol:    protocol,
		KPoints:     kpoints,
		Supercell:   supercell,
		PWCode:      pw,
		PhonopyCode: phonopy,
		Convergence: conv,
		QPath:       qpath,
	}, nil
}

// LoadAnswersFile reads a YAML (or JSON) answers document.
func LoadAnswersFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse answers: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func mesh(field string, given []int, def Mesh) (Mesh, ValidationErrors) {
	if len(given) == 0 {
		return def, nil
	}
	if len(given) != 3 {
		return Mesh{}, ValidationErrors{invalidf(field, "needs exactly three integers, got %d", len(given))}
	}
	var m Mesh
	var errs ValidationErrors
	for i, v := range given {
		if v <= 0 {
			errs = append(errs, invalidf(field, "component %d must be a positive integer, got %d", i, v))
		}
		m[i] = v
	}
	return m, errs
}

func checkCode(field, id string, listing []string) *ValidationError {
	for _, l := range listing {
		if l == id {
			return nil
		}
	}
	if len(listing) == 0 {
		return invalidf(field, "%q cannot be checked: no codes are installed", id)
	}
	return invalidf(field, "%q is not an installed code (installed: %s)", id, strings.Join(listing, ", "))
}

func knownConvergenceKey(k string) bool {
	for _, known := range ConvergenceKeys {
		if k == known {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
