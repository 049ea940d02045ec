// Package runner is the boundary to external command-line tools. It owns no
// state: every call spawns a process and returns its captured output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Result holds the output of a single command execution.
type Result struct {
	Argv     []string      `json:"argv"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the command exited with status 0.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0
}

// Output returns stderr when it is non-empty, otherwise stdout. Used when a
// failure has to be reported verbatim.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	if strings.TrimSpace(r.Stderr) != "" {
		return r.Stderr
	}
	return r.Stdout
}

// CommandExecutor abstracts real vs scripted command execution.
// Implementations: Exec, Scripted.
type CommandExecutor interface {
	Execute(ctx context.Context, argv []string) (*Result, error)
}

// Exec runs commands via os/exec. Env, when non-empty, replaces the process
// environment.
type Exec struct {
	Env []string
	Dir string
}

// Execute runs argv[0] with the remaining arguments. A non-zero exit is not
// an error; an executable that cannot be started is.
func (e *Exec) Execute(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("execute: empty argv")
	}
	start := time.Now()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //#nosec G204 -- argv comes from the operator's command catalog
	if len(e.Env) > 0 {
		cmd.Env = e.Env
	}
	cmd.Dir = e.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execute command %q: %w", argv[0], err)
		}
	}

	return &Result{
		Argv:     append([]string(nil), argv...),
		Stdout:   normalizeLineEndings(stdout.String()),
		Stderr:   normalizeLineEndings(stderr.String()),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

// IsNotFound reports whether err means the executable could not be located.
func IsNotFound(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

// normalizeLineEndings replaces \r\n with \n for cross-platform consistency.
func normalizeLineEndings(s string) string {
	if runtime.GOOS != "windows" {
		return s
	}
	return strings.ReplaceAll(s, "\r\n", "\n")
}
