package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/phonon/pkg/trace"
	"github.com/ormasoftchile/phonon/pkg/tui"
)

var traceShowCmd = &cobra.Command{
	Use:   "show [trace.jsonl]",
	Short: "Print the events of a trace file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := trace.ReadFile(args[0])
		if err != nil {
			return err
		}
		printEvents(cmd.OutOrStdout(), events)
		return nil
	},
}

func printEvents(w io.Writer, events []trace.Event) {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			e.Timestamp.Format("15:04:05"),
			e.RunID,
			string(e.Type),
			eventDetail(e.Data),
		})
	}
	fmt.Fprintln(w, tui.Table([]string{"TIME", "RUN", "EVENT", "DETAIL"}, rows))
}

// eventDetail renders event data as sorted key=value pairs.
func eventDetail(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := data[k]
		var s string
		switch v := v.(type) {
		case string:
			s = v
		default:
			b, _ := json.Marshal(v)
			s = string(b)
		}
		parts = append(parts, k+"="+s)
	}
	return strings.Join(parts, " ")
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceShowCmd)
	rootCmd.AddCommand(traceCmd)
}
