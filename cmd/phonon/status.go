package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/orchestrator"
	"github.com/ormasoftchile/phonon/pkg/tui"
)

var (
	processDays  int
	exportFormat string
)

func parsePK(s string) (int, error) {
	pk, err := strconv.Atoi(s)
	if err != nil || pk <= 0 {
		return 0, fmt.Errorf("invalid process id %q: must be a positive integer", s)
	}
	return pk, nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status [pk]",
	Short: "Show the status of an AiiDA process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pk, err := parsePK(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, info, err := a.Client.Show(cmd.Context(), pk)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s\n\n%s\n", tui.StatusGlyph(status), pk, status, info.Raw)
		return nil
	},
}

// --- processes ---

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "List recent AiiDA processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Client.ListProcesses(cmd.Context(), processDays)
		if err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("verdi process list exited %d: %s", res.ExitCode, res.Output())
		}
		fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
		return nil
	},
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export [pk]",
	Short: "Export the phonon band structure of a finished calculation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pk, err := parsePK(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.Client.Export(cmd.Context(), pk, exportFormat)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch [pk]",
	Short: "Watch an AiiDA process until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pk, err := parsePK(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p := &processPoller{client: a.Client, pk: pk}
		final, err := tea.NewProgram(tui.NewWatchModel(p, pk, a.Config.Watch)).Run()
		if err != nil {
			return err
		}
		return watchResult(final)
	},
}

// processPoller polls a process that was not submitted by this session. It
// reports Monitoring until the status is terminal.
type processPoller struct {
	client *aiida.Client
	pk     int

	mu    sync.Mutex
	state orchestrator.State
}

func (p *processPoller) Poll(ctx context.Context) (aiida.Status, error) {
	status, info, err := p.client.Show(ctx, p.pk)
	if err != nil {
		return status, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch status {
	case aiida.StatusFinished:
		p.state = orchestrator.StateCompleted
	case aiida.StatusFailed:
		p.state = orchestrator.StateFailed
		cerr := &orchestrator.CalculationFailedError{PK: p.pk, State: info.State, ExitStatus: -1}
		if info.HasExitStatus {
			cerr.ExitStatus = info.ExitStatus
		}
		return status, cerr
	}
	return status, nil
}

func (p *processPoller) State() orchestrator.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == "" {
		return orchestrator.StateMonitoring
	}
	return p.state
}

func init() {
	processesCmd.Flags().IntVar(&processDays, "days", 5, "Only list processes created in the last N days")
	exportCmd.Flags().StringVar(&exportFormat, "format", "agr", "Band structure export format (agr, dat, json, ...)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(processesCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(watchCmd)
}
