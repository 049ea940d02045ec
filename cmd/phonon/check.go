package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/phonon/pkg/prereq"
	"github.com/ormasoftchile/phonon/pkg/tui"
)

// --- check ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the AiiDA codes and pseudopotentials are installed",
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.Verifier.Verify(cmd.Context())
	if err != nil {
		return err
	}
	return printItems(cmd.OutOrStdout(), items)
}

// printItems renders items and fails when any is absent.
func printItems(w io.Writer, items []prereq.Item) error {
	fmt.Fprintln(w, tui.ItemsTable(items))
	absent := prereq.Absent(items)
	if len(absent) == 0 {
		fmt.Fprintf(w, "\n%s All prerequisites are installed.\n", tui.Present(true))
		return nil
	}
	fmt.Fprintf(w, "\n%s %d prerequisite(s) missing. Run: phonon install\n", tui.Present(false), len(absent))
	return fmt.Errorf("missing prerequisites")
}

// --- install ---

var installCmd = &cobra.Command{
	Use:   "install [item...]",
	Short: "Install missing prerequisites (all missing ones by default)",
	RunE:  runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	names := args
	if len(names) == 0 {
		items, err := a.Verifier.Verify(ctx)
		if err != nil {
			return err
		}
		for _, it := range prereq.Absent(items) {
			names = append(names, it.Name)
		}
		if len(names) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Nothing to install.\n", tui.Present(true))
			return nil
		}
	}
	return install(ctx, cmd.OutOrStdout(), a.Verifier, names)
}

func install(ctx context.Context, w io.Writer, v *prereq.Verifier, names []string) error {
	var (
		rems   []*prereq.Remediation
		failed int
	)
	for _, name := range names {
		r := v.Remediate(ctx, name)
		rems = append(rems, r)
		if !r.Succeeded() {
			failed++
		}
	}
	fmt.Fprintln(w, tui.RemediationsTable(rems))
	for _, r := range rems {
		if !r.Succeeded() && r.Output != "" {
			fmt.Fprintf(w, "\n%s output:\n%s\n", r.Item, r.Output)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d installs failed", failed, len(rems))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(installCmd)
}
