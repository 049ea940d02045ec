package trace

import (
	"context"
	"time"

	"github.com/ormasoftchile/phonon/pkg/runner"
)

// Executor records every external command it runs as a command event.
type Executor struct {
	Next   runner.CommandExecutor
	Writer *Writer
}

// Execute runs argv through Next and emits the outcome.
func (e *Executor) Execute(ctx context.Context, argv []string) (*runner.Result, error) {
	start := time.Now()
	res, err := e.Next.Execute(ctx, argv)
	exit := -1
	if res != nil {
		exit = res.ExitCode
	}
	e.Writer.EmitCommand(argv, exit, time.Since(start), err)
	return res, err
}
