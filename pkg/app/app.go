// Package app assembles the orchestrator and its collaborators from a
// configuration.
package app

import (
	"fmt"
	"log/slog"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/artifact"
	"github.com/ormasoftchile/phonon/pkg/config"
	"github.com/ormasoftchile/phonon/pkg/orchestrator"
	"github.com/ormasoftchile/phonon/pkg/params"
	"github.com/ormasoftchile/phonon/pkg/prereq"
	"github.com/ormasoftchile/phonon/pkg/runner"
	"github.com/ormasoftchile/phonon/pkg/trace"
)

// App is one wired orchestrator.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Client    *aiida.Client
	Verifier  *prereq.Verifier
	Collector *params.Collector
	Generator *artifact.Generator
	Template  *artifact.Template
	Trace     *trace.Writer
	Machine   *orchestrator.Machine
}

// New wires an App. A nil exec runs real commands in the work directory.
// Relative paths in cfg are made absolute first.
func New(cfg *config.Config, exec runner.CommandExecutor, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if exec == nil {
		exec = &runner.Exec{Dir: cfg.WorkDir}
	}

	a := &App{Config: cfg, Logger: logger}
	if cfg.TraceFile != "" {
		tw, err := trace.NewFileWriter(cfg.TraceFile, trace.NewRunID())
		if err != nil {
			return nil, err
		}
		a.Trace = tw
		exec = &trace.Executor{Next: exec, Writer: tw}
	}

	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, fmt.Errorf("status rules: %w", err)
	}
	a.Client = aiida.NewClient(exec,
		aiida.WithCommands(cfg.AiidaCommands()),
		aiida.WithClassifier(classifier),
		aiida.WithLogger(logger),
	)
	a.Verifier = prereq.New(a.Client, prereq.Config{
		Requirements: cfg.Requirements,
		SearchDirs:   cfg.ConfigDirs,
		Logger:       logger,
	})
	a.Collector = params.NewCollector(cfg.Defaults)
	a.Generator = artifact.NewGenerator(artifact.Options{Dir: cfg.WorkDir, Logger: logger})

	if cfg.Template != "" {
		tmpl, err := artifact.LoadTemplate(cfg.Template)
		if err != nil {
			return nil, err
		}
		a.Template = tmpl
	} else {
		a.Template = artifact.DefaultTemplate()
	}

	a.Machine = orchestrator.New(orchestrator.Deps{
		Client:                 a.Client,
		Verifier:               a.Verifier,
		Collector:              a.Collector,
		Generator:              a.Generator,
		Template:               a.Template,
		Trace:                  a.Trace,
		Logger:                 logger,
		MaxRemediationFailures: cfg.MaxRemediationFailures,
	})
	return a, nil
}

// Close releases the trace file.
func (a *App) Close() error {
	return a.Trace.Close()
}
