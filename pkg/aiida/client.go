// Package aiida wraps the AiiDA command-line surface (verdi, aiida-pseudo)
// as a catalog of argv templates and parses the text those tools print.
package aiida

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ormasoftchile/phonon/pkg/eval"
	"github.com/ormasoftchile/phonon/pkg/runner"
)

// Commands is the argv template for every external command. Placeholders use
// Go template syntax ({{ .pk }}).
type Commands struct {
	ListCodes     []string `yaml:"list_codes"     json:"list_codes,omitempty"     jsonschema:"minItems=1"`
	ListPseudos   []string `yaml:"list_pseudos"   json:"list_pseudos,omitempty"   jsonschema:"minItems=1"`
	InstallCode   []string `yaml:"install_code"   json:"install_code,omitempty"   jsonschema:"minItems=1"`
	InstallPseudo []string `yaml:"install_pseudo" json:"install_pseudo,omitempty" jsonschema:"minItems=1"`
	Run           []string `yaml:"run"            json:"run,omitempty"            jsonschema:"minItems=1"`
	Status        []string `yaml:"status"         json:"status,omitempty"         jsonschema:"minItems=1"`
	ListProcesses []string `yaml:"list_processes" json:"list_processes,omitempty" jsonschema:"minItems=1"`
	Export        []string `yaml:"export"         json:"export,omitempty"         jsonschema:"minItems=1"`
}

// DefaultCommands returns the stock verdi / aiida-pseudo invocations.
func DefaultCommands() Commands {
	return Commands{
		ListCodes:     []string{"verdi", "code", "list"},
		ListPseudos:   []string{"aiida-pseudo", "list"},
		InstallCode:   []string{"verdi", "code", "create", "core.code.installed", "--config", "{{ .config }}", "--no-use-double-quotes"},
		InstallPseudo: []string{"aiida-pseudo", "install", "{{ .library }}", "-x", "{{ .functional }}", "-v", "{{ .version }}"},
		Run:           []string{"verdi", "run", "{{ .script }}"},
		Status:        []string{"verdi", "process", "show", "{{ .pk }}"},
		ListProcesses: []string{"verdi", "process", "list", "-p", "{{ .days }}", "-a"},
		Export:        []string{"verdi", "data", "core.bands", "export", "--format", "{{ .format }}", "{{ .pk }}"},
	}
}

// WithDefaults fills empty entries from DefaultCommands.
func (c Commands) WithDefaults() Commands {
	return c.merge(DefaultCommands())
}

// merge fills empty entries of c from defaults.
func (c Commands) merge(defaults Commands) Commands {
	pick := func(a, b []string) []string {
		if len(a) > 0 {
			return a
		}
		return b
	}
	return Commands{
		ListCodes:     pick(c.ListCodes, defaults.ListCodes),
		ListPseudos:   pick(c.ListPseudos, defaults.ListPseudos),
		InstallCode:   pick(c.InstallCode, defaults.InstallCode),
		InstallPseudo: pick(c.InstallPseudo, defaults.InstallPseudo),
		Run:           pick(c.Run, defaults.Run),
		Status:        pick(c.Status, defaults.Status),
		ListProcesses: pick(c.ListProcesses, defaults.ListProcesses),
		Export:        pick(c.Export, defaults.Export),
	}
}

// Client issues catalog commands through a runner.CommandExecutor.
type Client struct {
	exec       runner.CommandExecutor
	cmds       Commands
	classifier *Classifier
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCommands overrides catalog entries; empty entries keep their defaults.
func WithCommands(cmds Commands) Option {
	return func(c *Client) { c.cmds = cmds.merge(DefaultCommands()) }
}

// WithClassifier replaces the default status classifier.
func WithClassifier(cl *Classifier) Option {
	return func(c *Client) { c.classifier = cl }
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient creates a client over exec.
func NewClient(exec runner.CommandExecutor, opts ...Option) *Client {
	c := &Client{
		exec:       exec,
		cmds:       DefaultCommands(),
		classifier: DefaultClassifier(),
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Commands returns the effective catalog.
func (c *Client) Commands() Commands { return c.cmds }

// Base returns the executable a catalog entry invokes (argv[0]).
func Base(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}

func (c *Client) run(ctx context.Context, name string, tmpl []string, vars map[string]any) (*runner.Result, error) {
	argv, err := eval.ResolveArgv(tmpl, vars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c.log.Debug("running command", "command", name, "argv", argv)
	res, err := c.exec.Execute(ctx, argv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c.log.Debug("command finished", "command", name, "exit_code", res.ExitCode, "duration", res.Duration)
	return res, nil
}

// ListCodes runs the code-listing command and returns the raw result.
func (c *Client) ListCodes(ctx context.Context) (*runner.Result, error) {
	return c.run(ctx, "list_codes", c.cmds.ListCodes, nil)
}

// ListPseudos runs the pseudopotential-listing command.
func (c *Client) ListPseudos(ctx context.Context) (*runner.Result, error) {
	return c.run(ctx, "list_pseudos", c.cmds.ListPseudos, nil)
}

// InstallCode creates a code from a YAML configuration file.
func (c *Client) InstallCode(ctx context.Context, configPath string) (*runner.Result, error) {
	return c.run(ctx, "install_code", c.cmds.InstallCode, map[string]any{"config": configPath})
}

// InstallPseudo installs a pseudopotential family.
func (c *Client) InstallPseudo(ctx context.Context, library, functional, version string) (*runner.Result, error) {
	return c.run(ctx, "install_pseudo", c.cmds.InstallPseudo, map[string]any{
		"library":    library,
		"functional": functional,
		"version":    version,
	})
}

// Run dispatches a generated script and returns the process PK parsed from
// its output. A command that fails to start, exits non-zero, or prints no PK
// yields *ExecutionError.
func (c *Client) Run(ctx context.Context, script string) (int, *runner.Result, error) {
	argv, _ := eval.ResolveArgv(c.cmds.Run, map[string]any{"script": script})
	res, err := c.run(ctx, "run", c.cmds.Run, map[string]any{"script": script})
	if err != nil {
		return 0, nil, &ExecutionError{Argv: argv, ExitCode: -1, Reason: "command could not be started", Err: err}
	}
	if !res.OK() {
		return 0, res, &ExecutionError{Argv: res.Argv, ExitCode: res.ExitCode, Output: res.Output(), Reason: "non-zero exit"}
	}
	pk, ok := ParsePK(res.Stdout)
	if !ok {
		return 0, res, &ExecutionError{Argv: res.Argv, Output: res.Stdout, Reason: "no process identifier in output"}
	}
	return pk, res, nil
}

// Show queries a process and classifies its state. Unparseable output is
// returned as StatusUnknown together with *StatusUnknownError; a non-zero
// exit is a plain error.
func (c *Client) Show(ctx context.Context, pk int) (Status, *ProcessInfo, error) {
	res, err := c.run(ctx, "status", c.cmds.Status, map[string]any{"pk": pk})
	if err != nil {
		return StatusUnknown, nil, err
	}
	if !res.OK() {
		return StatusUnknown, nil, fmt.Errorf("status: exit code %d: %s", res.ExitCode, res.Output())
	}
	info, ok := ParseProcessInfo(res.Stdout)
	if !ok {
		return StatusUnknown, nil, &StatusUnknownError{PK: pk, Output: res.Stdout}
	}
	status, err := c.classifier.Classify(info)
	if err != nil {
		return StatusUnknown, info, fmt.Errorf("classify: %w", err)
	}
	if status == StatusUnknown {
		return status, info, &StatusUnknownError{PK: pk, Output: res.Stdout}
	}
	return status, info, nil
}

// ListProcesses returns the raw listing of processes from the last days.
func (c *Client) ListProcesses(ctx context.Context, days int) (*runner.Result, error) {
	if days <= 0 {
		days = 5
	}
	return c.run(ctx, "list_processes", c.cmds.ListProcesses, map[string]any{"days": strconv.Itoa(days)})
}

// Export returns the exported data for a process unmodified.
func (c *Client) Export(ctx context.Context, pk int, format string) (string, error) {
	res, err := c.run(ctx, "export", c.cmds.Export, map[string]any{"pk": pk, "format": format})
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("export: exit code %d: %s", res.ExitCode, res.Output())
	}
	return res.Stdout, nil
}
