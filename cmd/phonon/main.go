// Package main provides the phonon CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/app"
	"github.com/ormasoftchile/phonon/pkg/config"
	"github.com/ormasoftchile/phonon/pkg/docs"
	"github.com/ormasoftchile/phonon/pkg/mcpserver"
	"github.com/ormasoftchile/phonon/pkg/params"
	"github.com/ormasoftchile/phonon/pkg/tui"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Global flags.
var (
	configPath string
	workDir    string
	logLevel   string
	envFiles   []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "phonon",
	Short: "Phonon band structure workflows on AiiDA",
	Long:  "phonon verifies AiiDA prerequisites, generates a phonon calculation script, and runs and monitors it after explicit approval.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnv(envFiles...)
	},
	SilenceUsage: true,
}

// loadApp reads the configuration (flags win over file and environment) and
// wires an App whose logs go to stderr.
func loadApp() (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if logLevel != "" {
		if _, err := config.ParseLevel(logLevel); err != nil {
			return nil, err
		}
		cfg.LogLevel = logLevel
	}
	return app.New(cfg, nil, cfg.NewLogger(os.Stderr))
}

// --- guide ---

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Show the phonon workflow guide",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), tui.RenderMarkdown(docs.WorkflowGuide(), 0))
		return nil
	},
}

// --- example ---

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print the example silicon calculation script",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		script, err := docs.ExampleScript(a.Template)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), script)
		return nil
	},
}

// --- codes ---

var codesWriteDir string

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Print (or write) the default pw and phonopy code configurations",
	RunE:  runCodes,
}

func runCodes(cmd *cobra.Command, args []string) error {
	files := aiida.DefaultCodeConfigs()
	if codesWriteDir == "" {
		data, err := aiida.MarshalCodeConfigs(files)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	}
	written, err := aiida.WriteCodeConfigs(codesWriteDir, files)
	if err != nil {
		return err
	}
	if len(written) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "All code configurations already exist in %s\n", codesWriteDir)
	}
	for _, p := range written {
		fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", tui.Present(true), p)
	}
	return nil
}

// --- schema export ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:       "export [answers|config]",
	Short:     "Export a JSON Schema to stdout",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"answers", "config"},
	RunE:      runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	switch args[0] {
	case "answers":
		data, err = params.GenerateAnswersJSONSchema()
	case "config":
		data, err = config.GenerateJSONSchema()
	default:
		return fmt.Errorf("unknown schema %q (want answers or config)", args[0])
	}
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	return nil
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start an MCP server that communicates over stdin/stdout.
AI agents drive the phonon workflow through its tools; logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return server.ServeStdio(mcpserver.NewServer(a, version))
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "phonon %s (build: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default $PHONON_CONFIG or ./phonon.yaml)")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "Directory for generated scripts (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringArrayVar(&envFiles, "env-file", nil, "Load variables from a .env file, repeatable (default .env)")

	codesCmd.Flags().StringVar(&codesWriteDir, "write", "", "Write the configurations into this directory instead of printing them")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(guideCmd)
	rootCmd.AddCommand(exampleCmd)
	rootCmd.AddCommand(codesCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
