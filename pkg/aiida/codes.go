package aiida

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CodeConfig is the file consumed by `verdi code create core.code.installed
// --config`.
type CodeConfig struct {
	Label                string `yaml:"label"`
	Computer             string `yaml:"computer"`
	Description          string `yaml:"description,omitempty"`
	FilepathExecutable   string `yaml:"filepath_executable"`
	DefaultCalcJobPlugin string `yaml:"default_calc_job_plugin"`
	PrependText          string `yaml:"prepend_text,omitempty"`
	AppendText           string `yaml:"append_text,omitempty"`
}

// CodeConfigFile pairs a configuration with its conventional file name.
type CodeConfigFile struct {
	File   string
	Config CodeConfig
}

// DefaultCodeConfigs returns the configurations of the two codes a phonon
// calculation needs on a single local computer.
func DefaultCodeConfigs() []CodeConfigFile {
	return []CodeConfigFile{
		{File: "pw-7.3.yaml", Config: CodeConfig{
			Label:                "pw-7.3",
			Computer:             "localhost",
			Description:          "Quantum ESPRESSO pw.x v7.3",
			FilepathExecutable:   "/usr/local/bin/pw.x",
			DefaultCalcJobPlugin: "quantumespresso.pw",
			PrependText:          "export OMP_NUM_THREADS=1\n",
		}},
		{File: "phonopy.yaml", Config: CodeConfig{
			Label:                "phonopy",
			Computer:             "localhost",
			Description:          "Phonopy for phonon calculations",
			FilepathExecutable:   "/usr/local/bin/phonopy",
			DefaultCalcJobPlugin: "phonopy.phonopy",
			PrependText:          "export OMP_NUM_THREADS=1\n",
		}},
	}
}

// MarshalCodeConfigs renders the configurations as one multi-document YAML
// stream, each document headed by its file name.
func MarshalCodeConfigs(files []CodeConfigFile) ([]byte, error) {
	var buf bytes.Buffer
	for i, f := range files {
		if i > 0 {
			buf.WriteString("---\n")
		}
		fmt.Fprintf(&buf, "# %s\n", f.File)
		data, err := yaml.Marshal(f.Config)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", f.File, err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// WriteCodeConfigs writes each configuration into dir, skipping files that
// already exist. It returns the paths written.
func WriteCodeConfigs(dir string, files []CodeConfigFile) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.File)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := yaml.Marshal(f.Config)
		if err != nil {
			return written, fmt.Errorf("marshal %s: %w", f.File, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// LoadCodeConfig reads a code configuration file strictly.
func LoadCodeConfig(path string) (*CodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read code config: %w", err)
	}
	var cfg CodeConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if cfg.Label == "" || cfg.Computer == "" {
		return nil, fmt.Errorf("%s: label and computer are required", path)
	}
	return &cfg, nil
}

// FullLabel is the identifier verdi lists for the code (label@computer).
func (c CodeConfig) FullLabel() string {
	return c.Label + "@" + c.Computer
}
