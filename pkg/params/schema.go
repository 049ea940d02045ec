package params

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Answers is the raw, user-supplied side of the parameter schema. Every field
// is optional; Collect applies defaults.
type Answers struct {
	StructureFile  string             `json:"structure_file,omitempty"  yaml:"structure_file,omitempty"  jsonschema:"description=Path to a CIF/POSCAR file readable by ASE"`
	StructureFetch string             `json:"structure_fetch,omitempty" yaml:"structure_fetch,omitempty" jsonschema:"description=Database identifier to fetch the structure from (e.g. mp-149)"`
	Protocol       string             `json:"protocol,omitempty"        yaml:"protocol,omitempty"        jsonschema:"enum=fast,enum=moderate,enum=precise"`
	KPoints        []int              `json:"kpoints,omitempty"         yaml:"kpoints,omitempty"         jsonschema:"minItems=3,maxItems=3,description=K-points mesh"`
	Supercell      []int              `json:"supercell,omitempty"       yaml:"supercell,omitempty"       jsonschema:"minItems=3,maxItems=3,description=Supercell matrix diagonal"`
	PWCode         string             `json:"pw_code,omitempty"         yaml:"pw_code,omitempty"`
	PhonopyCode    string             `json:"phonopy_code,omitempty"    yaml:"phonopy_code,omitempty"`
	Convergence    map[string]float64 `json:"convergence,omitempty"     yaml:"convergence,omitempty"     jsonschema:"description=Optional convergence overrides"`
	QPath          []string           `json:"qpath,omitempty"           yaml:"qpath,omitempty"           jsonschema:"description=Optional custom q-point path labels"`
}

// GenerateAnswersJSONSchema produces a JSON Schema Draft 2020-12 document
// from the Answers type.
func GenerateAnswersJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Answers{})
	s.ID = "https://github.com/ormasoftchile/phonon/schemas/answers.json"
	s.Title = "Phonon calculation answers"
	s.Description = "Parameters collected for a phonon band structure calculation"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal answers schema: %w", err)
	}
	return data, nil
}

var (
	answersSchemaOnce sync.Once
	answersSchema     *sjsonschema.Schema
	answersSchemaErr  error
)

func compiledAnswersSchema() (*sjsonschema.Schema, error) {
	answersSchemaOnce.Do(func() {
		data, err := GenerateAnswersJSONSchema()
		if err != nil {
			answersSchemaErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			answersSchemaErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource("answers.json", doc); err != nil {
			answersSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		answersSchema, answersSchemaErr = c.Compile("answers.json")
	})
	return answersSchema, answersSchemaErr
}

// checkStructure validates a raw answers document against the Answers
// schema: types, array lengths and unknown fields.
func checkStructure(raw map[string]any) ValidationErrors {
	sch, err := compiledAnswersSchema()
	if err != nil {
		return ValidationErrors{invalidf("answers", "schema: %s", err)}
	}

	// Round-trip through JSON so YAML- and MCP-decoded values look alike.
	data, err := json.Marshal(raw)
	if err != nil {
		return ValidationErrors{invalidf("answers", "encode: %s", err)}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return ValidationErrors{invalidf("answers", "decode: %s", err)}
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return ValidationErrors{invalidf("answers", "%s", err)}
		}
		var errs ValidationErrors
		for _, cause := range flattenValidationErrors(ve) {
			field := "answers"
			if len(cause.InstanceLocation) > 0 {
				field = cause.InstanceLocation[0]
			}
			loc := strings.Join(cause.InstanceLocation, "/")
			msg := fmt.Sprintf("%v", cause.ErrorKind)
			if len(cause.InstanceLocation) > 1 {
				msg = fmt.Sprintf("at %s: %s", loc, msg)
			}
			errs = append(errs, &ValidationError{Field: field, Message: msg})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
