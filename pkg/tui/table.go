package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/phonon/pkg/prereq"
)

// Table lays out rows in columns aligned by display width.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, r := range rows {
		for i := 0; i < len(r) && i < len(widths); i++ {
			if w := runewidth.StringWidth(r[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(widths)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}
	writeRow(headers)
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("─", w)
	}
	writeRow(sep)
	for _, r := range rows {
		writeRow(r)
	}
	return b.String()
}

// ItemsTable renders prerequisite results. Absent items show the command
// that installs them.
func ItemsTable(items []prereq.Item) string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		state := GlyphPresent + " present"
		if !it.Present {
			state = GlyphAbsent + " absent"
		}
		rows = append(rows, []string{it.Name, string(it.Kind), state, it.Remediation})
	}
	return Table([]string{"ITEM", "KIND", "STATE", "REMEDIATION"}, rows)
}

// RemediationsTable renders remediation attempts.
func RemediationsTable(rems []*prereq.Remediation) string {
	rows := make([][]string, 0, len(rems))
	for _, r := range rems {
		result := GlyphPresent + " installed"
		if !r.Succeeded() {
			result = GlyphAbsent + " failed"
			if r.Err != "" {
				result += ": " + r.Err
			}
		}
		rows = append(rows, []string{r.Item, strings.Join(r.Argv, " "), result})
	}
	return Table([]string{"ITEM", "COMMAND", "RESULT"}, rows)
}
