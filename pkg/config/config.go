// Package config loads the phonon configuration file, .env files and
// PHONON_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/orchestrator"
	"github.com/ormasoftchile/phonon/pkg/params"
	"github.com/ormasoftchile/phonon/pkg/prereq"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "phonon.yaml"

// Environment variables read by Load.
const (
	EnvConfig      = "PHONON_CONFIG"
	EnvWorkDir     = "PHONON_WORKDIR"
	EnvLogLevel    = "PHONON_LOG_LEVEL"
	EnvVerdi       = "PHONON_VERDI"
	EnvPWCode      = "PHONON_PW_CODE"
	EnvPhonopyCode = "PHONON_PHONOPY_CODE"
)

// Config is the phonon configuration file.
type Config struct {
	// WorkDir receives generated scripts and manifests.
	WorkDir string `yaml:"workdir,omitempty" json:"workdir,omitempty"`
	// Template overrides the embedded script template.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
	// TraceFile, when set, receives the JSONL audit trail.
	TraceFile string `yaml:"trace_file,omitempty" json:"trace_file,omitempty"`
	LogLevel  string `yaml:"log_level,omitempty" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	// Verdi replaces the verdi executable in every command.
	Verdi string `yaml:"verdi,omitempty" json:"verdi,omitempty"`

	Commands     aiida.Commands       `yaml:"commands,omitempty"     json:"commands,omitempty"`
	StatusRules  []aiida.Rule         `yaml:"status_rules,omitempty" json:"status_rules,omitempty"`
	Requirements []prereq.Requirement `yaml:"requirements,omitempty" json:"requirements,omitempty"`
	// ConfigDirs are searched for code configuration files.
	ConfigDirs []string        `yaml:"config_dirs,omitempty" json:"config_dirs,omitempty"`
	Defaults   params.Defaults `yaml:"defaults,omitempty"    json:"defaults,omitempty"`

	MaxRemediationFailures int                 `yaml:"max_remediation_failures,omitempty" json:"max_remediation_failures,omitempty" jsonschema:"minimum=1"`
	Watch                  orchestrator.Policy `yaml:"watch,omitempty"                    json:"watch,omitempty"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-" json:"-"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		WorkDir:    ".",
		LogLevel:   "info",
		ConfigDirs: []string{"."},
		Defaults:   params.DefaultDefaults(),
		Watch:      orchestrator.DefaultPolicy(),
	}
}

// LoadEnv loads .env files into the process environment. Missing files are
// ignored; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration. path may be empty, in which case
// PHONON_CONFIG and then ./phonon.yaml are tried; with neither present the
// defaults are used. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultFile
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(bytes.NewReader(data), cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if err := validateSchema(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePaths makes the work directory, the code configuration directories,
// the template and the trace file absolute against the current directory.
// Commands run inside WorkDir, so relative paths handed to them would
// otherwise resolve twice.
func (c *Config) ResolvePaths() error {
	for _, p := range []*string{&c.WorkDir, &c.Template, &c.TraceFile} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	dirs := make([]string, len(c.ConfigDirs))
	for i, d := range c.ConfigDirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return fmt.Errorf("resolve config dir %s: %w", d, err)
		}
		dirs[i] = abs
	}
	c.ConfigDirs = dirs
	return nil
}

// decode strictly decodes YAML over cfg: unknown fields are rejected.
func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("structural decode: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvWorkDir)); v != "" {
		c.WorkDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvVerdi)); v != "" {
		c.Verdi = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPWCode)); v != "" {
		c.Defaults.PWCode = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPhonopyCode)); v != "" {
		c.Defaults.PhonopyCode = v
	}
}

// Validate checks the semantic rules the schema cannot express.
func (c *Config) Validate() error {
	var errs []string
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Defaults.Protocol != "" && !c.Defaults.Protocol.Valid() {
		errs = append(errs, fmt.Sprintf("defaults.protocol: %q is not one of %v", c.Defaults.Protocol, params.Protocols))
	}
	for _, m := range []struct {
		name string
		mesh params.Mesh
	}{{"defaults.kpoints", c.Defaults.KPoints}, {"defaults.supercell", c.Defaults.Supercell}} {
		if m.mesh == (params.Mesh{}) {
			continue
		}
		for _, v := range m.mesh {
			if v <= 0 {
				errs = append(errs, fmt.Sprintf("%s: components must be positive, got %s", m.name, m.mesh))
				break
			}
		}
	}
	if len(c.StatusRules) > 0 {
		if _, err := aiida.NewClassifier(c.StatusRules); err != nil {
			errs = append(errs, fmt.Sprintf("status_rules: %s", err))
		}
	}
	seen := make(map[string]bool)
	for i, r := range c.Requirements {
		if seen[r.Name] {
			errs = append(errs, fmt.Sprintf("requirements[%d]: duplicate name %q", i, r.Name))
		}
		seen[r.Name] = true
		if r.Kind == prereq.KindCode && r.ConfigFile == "" {
			errs = append(errs, fmt.Sprintf("requirements[%d]: code %q needs config_file", i, r.Name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// AiidaCommands returns the effective command table, with the verdi
// override applied.
func (c *Config) AiidaCommands() aiida.Commands {
	cmds := c.Commands.WithDefaults()
	if c.Verdi == "" {
		return cmds
	}
	for _, argv := range []*[]string{
		&cmds.ListCodes, &cmds.ListPseudos, &cmds.InstallCode, &cmds.InstallPseudo,
		&cmds.Run, &cmds.Status, &cmds.ListProcesses, &cmds.Export,
	} {
		if len(*argv) > 0 && (*argv)[0] == "verdi" {
			replaced := append([]string{c.Verdi}, (*argv)[1:]...)
			*argv = replaced
		}
	}
	return cmds
}

// Classifier builds the status classifier; nil rules select the defaults.
func (c *Config) Classifier() (*aiida.Classifier, error) {
	if len(c.StatusRules) == 0 {
		return aiida.DefaultClassifier(), nil
	}
	return aiida.NewClassifier(c.StatusRules)
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level: unknown level %q", s)
}

// NewLogger returns a text logger writing to w at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
