package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/phonon/pkg/app"
	"github.com/ormasoftchile/phonon/pkg/orchestrator"
	"github.com/ormasoftchile/phonon/pkg/params"
	"github.com/ormasoftchile/phonon/pkg/tui"
)

var (
	runAnswers string
	runWatch   bool
)

var runCmd = &cobra.Command{
	Use:   "run [material]",
	Short: "Interactively verify, generate, approve and submit a phonon calculation",
	Long: `Run walks one phonon band structure request through its gates:
missing prerequisites are installed only after you agree, and the generated
script is submitted only after you approve it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// asker is the prompt surface run needs.
type asker interface {
	Ask(question, def string) (string, error)
	Confirm(question string) (bool, error)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := tui.NewPrompter(nil, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	var raw map[string]any
	if runAnswers != "" {
		raw, err = params.LoadAnswersFile(runAnswers)
		if err != nil {
			return err
		}
	}

	handle, err := converse(cmd.Context(), cmd.OutOrStdout(), a, p, args[0], raw)
	if err != nil || handle == nil || !runWatch {
		return err
	}
	return watchMachine(a, handle.PK)
}

// converse drives the machine from Request to submission. It returns a nil
// handle when the user stops at a gate.
func converse(ctx context.Context, w io.Writer, a *app.App, p asker, material string, raw map[string]any) (*orchestrator.ExecutionHandle, error) {
	m := a.Machine
	fmt.Fprintln(w, tui.Header("Prerequisites for "+material))
	items, err := m.Request(ctx, material)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(w, tui.ItemsTable(items))

	for m.State() == orchestrator.StateAwaitingRemediation {
		ok, err := p.Confirm("Install the missing prerequisites?")
		if err != nil {
			return nil, errors.Join(err, m.Abandon())
		}
		if !ok {
			return nil, m.DeclineRemediation()
		}
		rems, err := m.Remediate(ctx)
		fmt.Fprintln(w, tui.RemediationsTable(rems))
		if err != nil {
			return nil, err
		}
	}

	fmt.Fprintln(w, tui.Header("Calculation parameters"))
	for {
		answers := raw
		if answers == nil {
			answers, err = promptAnswers(p, a.Collector.Defaults())
			if err != nil {
				return nil, errors.Join(err, m.Abandon())
			}
		}
		art, err := m.Collect(answers)
		var verrs params.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				fmt.Fprintf(w, "  %s %s: %s\n", tui.Present(false), e.Field, e.Message)
			}
			if raw != nil {
				return nil, errors.Join(err, m.Abandon())
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		fmt.Fprintln(w, tui.Header("Generated "+art.Path))
		fmt.Fprint(w, art.Parameters.Summary())
		fmt.Fprintln(w, tui.RenderMarkdown(tui.CodeBlock("python", string(art.Content)), 0))
		break
	}

	ok, err := p.Confirm("Submit this calculation to AiiDA?")
	if err != nil || !ok {
		path := m.Snapshot().Artifact.Path
		if rerr := m.Reject(); rerr != nil {
			return nil, rerr
		}
		fmt.Fprintf(w, "Not submitted. The script is kept at %s\n", path)
		return nil, err
	}

	h, err := m.Approve(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "%s Calculation submitted with PK %d\n", tui.Present(true), h.PK)
	fmt.Fprintf(w, "  Monitor with: phonon watch %d\n", h.PK)
	return h, nil
}

// promptAnswers asks for each parameter. Meshes that do not parse are passed
// through as text so validation reports them.
func promptAnswers(p asker, d params.Defaults) (map[string]any, error) {
	answers := make(map[string]any)

	file, err := p.Ask("Structure file (empty to fetch from Materials Project)", "")
	if err != nil {
		return nil, err
	}
	if file != "" {
		answers["structure_file"] = file
	} else {
		id, err := p.Ask("Materials Project ID", "")
		if err != nil {
			return nil, err
		}
		if id != "" {
			answers["structure_fetch"] = id
		}
	}

	protocol, err := p.Ask("Protocol (fast, moderate, precise)", string(d.Protocol))
	if err != nil {
		return nil, err
	}
	answers["protocol"] = protocol

	for _, f := range []struct {
		key, question string
		def           params.Mesh
	}{
		{"kpoints", "K-points mesh", d.KPoints},
		{"supercell", "Supercell", d.Supercell},
	} {
		s, err := p.Ask(f.question, meshText(f.def))
		if err != nil {
			return nil, err
		}
		answers[f.key] = parseMesh(s)
	}

	for _, f := range []struct{ key, question, def string }{
		{"pw_code", "Quantum ESPRESSO code", d.PWCode},
		{"phonopy_code", "Phonopy code", d.PhonopyCode},
	} {
		s, err := p.Ask(f.question, f.def)
		if err != nil {
			return nil, err
		}
		answers[f.key] = s
	}
	return answers, nil
}

func meshText(m params.Mesh) string {
	return fmt.Sprintf("%d %d %d", m[0], m[1], m[2])
}

// parseMesh accepts "3 3 3", "3,3,3" or "3x3x3".
func parseMesh(s string) any {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == 'x' || r == '\t'
	})
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return s
		}
		out = append(out, n)
	}
	return out
}

// watchMachine runs the watch view against the machine until the calculation
// ends or the user quits.
func watchMachine(a *app.App, pk int) error {
	final, err := tea.NewProgram(tui.NewWatchModel(a.Machine, pk, a.Config.Watch)).Run()
	if err != nil {
		return err
	}
	return watchResult(final)
}

func watchResult(final tea.Model) error {
	wm, ok := final.(tui.WatchModel)
	if !ok || !wm.Done() {
		return nil
	}
	fmt.Printf("%s process finished watching: %s\n", tui.StatusGlyph(wm.Status()), wm.Status())
	return wm.Err()
}

func init() {
	runCmd.Flags().StringVar(&runAnswers, "answers", "", "Read calculation parameters from a YAML file instead of prompting")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Watch the calculation after submission")
	rootCmd.AddCommand(runCmd)
}
