package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

// Prompter asks line-oriented questions on a terminal.
type Prompter struct {
	rl *readline.Instance
}

// NewPrompter opens a readline prompter. Stdin and Stdout may be nil for the
// process terminal.
func NewPrompter(stdin io.ReadCloser, stdout io.Writer) (*Prompter, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           stdin,
		Stdout:          stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	return &Prompter{rl: rl}, nil
}

// Close releases the terminal.
func (p *Prompter) Close() error { return p.rl.Close() }

// Ask prints question and returns the trimmed answer, or def when the
// answer is empty.
func (p *Prompter) Ask(question, def string) (string, error) {
	prompt := question
	if def != "" {
		prompt += fmt.Sprintf(" [%s]", def)
	}
	p.rl.SetPrompt(prompt + ": ")
	line, err := p.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// Confirm asks a yes/no question; anything but y/yes is no.
func (p *Prompter) Confirm(question string) (bool, error) {
	ans, err := p.Ask(question+" (y/N)", "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(ans) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
