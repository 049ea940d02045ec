package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/phonon/pkg/prereq"
)

// PrerequisiteError reports that required resources remain absent, either
// because the user declined remediation or because remediation kept failing.
type PrerequisiteError struct {
	Absent       []string
	Declined     bool
	Remediations []*prereq.Remediation // the attempts that failed, last first per item
}

func (e *PrerequisiteError) Error() string {
	var b strings.Builder
	if e.Declined {
		fmt.Fprintf(&b, "remediation declined; missing prerequisites: %s", strings.Join(e.Absent, ", "))
	} else {
		fmt.Fprintf(&b, "remediation failed; missing prerequisites: %s", strings.Join(e.Absent, ", "))
	}
	for _, r := range e.Remediations {
		if r.Succeeded() {
			continue
		}
		fmt.Fprintf(&b, "\n%s:", r.Item)
		if r.Err != "" {
			fmt.Fprintf(&b, " %s", r.Err)
		}
		if r.ExitCode != 0 {
			fmt.Fprintf(&b, " exit code %d", r.ExitCode)
		}
		if out := strings.TrimSpace(r.Output); out != "" {
			fmt.Fprintf(&b, "\n%s", out)
		}
	}
	return b.String()
}

// CalculationFailedError is the failure cause recorded when the submitted
// process ends unsuccessfully.
type CalculationFailedError struct {
	PK         int
	State      string
	ExitStatus int
}

func (e *CalculationFailedError) Error() string {
	if e.ExitStatus >= 0 {
		return fmt.Sprintf("calculation %d ended %s [%d]", e.PK, e.State, e.ExitStatus)
	}
	return fmt.Sprintf("calculation %d ended %s", e.PK, e.State)
}
