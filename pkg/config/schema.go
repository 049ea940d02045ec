package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document for the
// configuration file.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Config{})
	s.ID = "https://github.com/ormasoftchile/phonon/schemas/config.json"
	s.Title = "phonon configuration"
	s.Description = "Configuration of the phonon calculation orchestrator"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config schema: %w", err)
	}
	return data, nil
}

// validateSchema validates the decoded configuration against the schema.
func validateSchema(cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal for schema validation: %w", err)
	}
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return err
	}

	var schemaDoc, inst any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	if err := json.Unmarshal(data, &inst); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("config.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("config.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return err
		}
		var msgs []string
		for _, cause := range flatten(ve) {
			loc := strings.Join(cause.InstanceLocation, ".")
			if loc == "" {
				loc = "(root)"
			}
			msgs = append(msgs, fmt.Sprintf("%s: %v", loc, cause.ErrorKind))
		}
		return fmt.Errorf("schema validation:\n  %s", strings.Join(msgs, "\n  "))
	}
	return nil
}

func flatten(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, c := range ve.Causes {
		flat = append(flat, flatten(c)...)
	}
	return flat
}
