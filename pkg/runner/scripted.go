package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Response is a canned command outcome.
type Response struct {
	Stdout   string `yaml:"stdout,omitempty" json:"stdout,omitempty"`
	Stderr   string `yaml:"stderr,omitempty" json:"stderr,omitempty"`
	ExitCode int    `yaml:"exit_code" json:"exit_code"`
	// Err simulates a command that could not be started.
	Err error `yaml:"-" json:"-"`
}

// Scripted implements CommandExecutor with canned responses keyed by the
// command line prefix. Responses for a key are consumed in order; the last
// one repeats once the queue is exhausted.
type Scripted struct {
	mu        sync.Mutex
	responses map[string][]Response
	consumed  map[string]int
	calls     [][]string
}

// NewScripted creates an empty scripted executor.
func NewScripted() *Scripted {
	return &Scripted{
		responses: make(map[string][]Response),
		consumed:  make(map[string]int),
	}
}

// On queues responses for commands whose joined argv starts with prefix.
func (s *Scripted) On(prefix string, responses ...Response) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[prefix] = append(s.responses[prefix], responses...)
	return s
}

// Calls returns every argv executed so far, in order.
func (s *Scripted) Calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CountPrefix returns how many executed commands start with prefix.
func (s *Scripted) CountPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(strings.Join(c, " "), prefix) {
			n++
		}
	}
	return n
}

// Execute returns the next canned response for the longest matching prefix.
func (s *Scripted) Execute(ctx context.Context, argv []string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls = append(s.calls, append([]string(nil), argv...))

	line := strings.Join(argv, " ")
	key := ""
	for prefix := range s.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(key) {
			key = prefix
		}
	}
	queue, ok := s.responses[key]
	if !ok || len(queue) == 0 {
		return nil, fmt.Errorf("execute command %q: no scripted response", line)
	}

	idx := s.consumed[key]
	if idx >= len(queue) {
		idx = len(queue) - 1
	}
	s.consumed[key]++

	resp := queue[idx]
	if resp.Err != nil {
		return nil, fmt.Errorf("execute command %q: %w", argv[0], resp.Err)
	}
	return &Result{
		Argv:     append([]string(nil), argv...),
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
	}, nil
}
