package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/params"
	"github.com/ormasoftchile/phonon/pkg/tui"
)

var generateAnswers string

var generateCmd = &cobra.Command{
	Use:   "generate [material]",
	Short: "Generate a calculation script from an answers file without submitting it",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	raw := map[string]any{}
	if generateAnswers != "" {
		var err error
		if raw, err = params.LoadAnswersFile(generateAnswers); err != nil {
			return err
		}
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Client.ListCodes(cmd.Context())
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("verdi code list exited %d: %s", res.ExitCode, res.Output())
	}

	p, err := a.Collector.Collect(args[0], raw, aiida.ParseCodeLabels(res.Stdout))
	if err != nil {
		return err
	}
	art, err := a.Generator.Generate(p, a.Template)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s wrote %s\n", tui.Present(true), art.Path)
	fmt.Fprintf(w, "  manifest %s\n  blake3   %s\n", art.ManifestPath, art.Digest)
	fmt.Fprint(w, p.Summary())
	return nil
}

func init() {
	generateCmd.Flags().StringVar(&generateAnswers, "answers", "", "YAML file with the calculation parameters")
	rootCmd.AddCommand(generateCmd)
}
