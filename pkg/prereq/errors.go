package prereq

import (
	"fmt"
	"strings"
)

// ConfigurationError reports that the base environment is unusable: a
// listing tool is not installed or its profile is not configured.
type ConfigurationError struct {
	Dependency string
	ExitCode   int
	Output     string // raw tool output, verbatim
	Err        error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("base dependency %q is not usable", e.Dependency)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(": exit code %d", e.ExitCode)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
