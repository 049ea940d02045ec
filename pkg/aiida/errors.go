package aiida

import (
	"fmt"
	"strings"
)

// ExecutionError reports that the run command failed to start a calculation.
type ExecutionError struct {
	Argv     []string
	ExitCode int
	Output   string // raw tool output, verbatim
	Reason   string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("execution failed: %s (%s)", e.Reason, strings.Join(e.Argv, " "))
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(": exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// StatusUnknownError reports a status query whose output could not be
// classified. It is transient: the poll may be retried.
type StatusUnknownError struct {
	PK     int
	Output string
}

func (e *StatusUnknownError) Error() string {
	return fmt.Sprintf("status of process %d unknown: unparseable output %q", e.PK, strings.TrimSpace(e.Output))
}
