package aiida

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Status is the classification of an external process.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// Terminal reports whether no further polling can change the status.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusRunning, StatusFinished, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

// ProcessInfo is the parsed form of `verdi process show` output.
type ProcessInfo struct {
	State         string `json:"state"`
	ExitStatus    int    `json:"exit_status"`
	HasExitStatus bool   `json:"has_exit_status"`
	Type          string `json:"type,omitempty"`
	Raw           string `json:"-"`
}

var (
	codeLabelRe = regexp.MustCompile(`[A-Za-z0-9_.+\-]+@[A-Za-z0-9_.+\-]+`)
	pkLineRe    = regexp.MustCompile(`(?i)\b(?:pk|pid)\s*:`)
	numberRe    = regexp.MustCompile(`\d+`)
	stateRe     = regexp.MustCompile(`(?mi)^\s*(?:process\s+)?state\s*[:|]?\s+([A-Za-z]+)(?:\s*\[(-?\d+)\])?`)
	typeRe      = regexp.MustCompile(`(?mi)^\s*type\s*[:|]?\s+(\S+)`)
)

// ParseCodeLabels extracts the full code labels (label@computer) from a
// `verdi code list` listing, sorted and de-duplicated.
func ParseCodeLabels(out string) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, m := range codeLabelRe.FindAllString(out, -1) {
		if !seen[m] {
			seen[m] = true
			labels = append(labels, m)
		}
	}
	sort.Strings(labels)
	return labels
}

// ParsePK returns the first integer on the first line that announces a
// process identifier ("PK: 1234", "PID: 1234", "pk: 1234").
func ParsePK(out string) (int, bool) {
	for _, line := range strings.Split(out, "\n") {
		loc := pkLineRe.FindStringIndex(line)
		if loc == nil {
			continue
		}
		if m := numberRe.FindString(line[loc[1]:]); m != "" {
			pk, err := strconv.Atoi(m)
			if err == nil {
				return pk, true
			}
		}
	}
	return 0, false
}

// ParseProcessInfo reads the state line of `verdi process show` output.
// The bracketed number after "Finished" is the exit status.
func ParseProcessInfo(out string) (*ProcessInfo, bool) {
	m := stateRe.FindStringSubmatch(out)
	if m == nil {
		return nil, false
	}
	info := &ProcessInfo{
		State:      capitalize(m[1]),
		ExitStatus: -1,
		Raw:        out,
	}
	if m[2] != "" {
		if n, err := strconv.Atoi(m[2]); err == nil {
			info.ExitStatus = n
			info.HasExitStatus = true
		}
	}
	if t := typeRe.FindStringSubmatch(out); t != nil {
		info.Type = t[1]
	}
	return info, true
}

// capitalize normalizes an ASCII state name to "Finished" form.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
