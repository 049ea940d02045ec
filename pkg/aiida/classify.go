package aiida

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Rule maps a boolean expr-lang condition over a ProcessInfo to a status.
// The environment exposes state, exit_status, has_exit_status and type.
type Rule struct {
	Status Status `yaml:"status" json:"status" jsonschema:"enum=submitted,enum=running,enum=finished,enum=failed"`
	When   string `yaml:"when"   json:"when"   jsonschema:"minLength=1"`
}

// DefaultRules classifies the process states verdi reports.
func DefaultRules() []Rule {
	return []Rule{
		{Status: StatusFinished, When: `state == "Finished" && has_exit_status && exit_status == 0`},
		{Status: StatusFailed, When: `state in ["Excepted", "Killed"] || (state == "Finished" && has_exit_status && exit_status != 0)`},
		{Status: StatusRunning, When: `state in ["Running", "Waiting"]`},
		{Status: StatusSubmitted, When: `state == "Created"`},
	}
}

type compiledRule struct {
	status  Status
	source  string
	program *vm.Program
}

// Classifier evaluates rules in order; the first match wins and no match is
// StatusUnknown.
type Classifier struct {
	rules []compiledRule
}

// NewClassifier compiles rules against the ProcessInfo environment.
func NewClassifier(rules []Rule) (*Classifier, error) {
	c := &Classifier{}
	for i, r := range rules {
		if !r.Status.Valid() || r.Status == StatusUnknown {
			return nil, fmt.Errorf("rule %d: invalid status %q", i, r.Status)
		}
		program, err := expr.Compile(r.When, expr.Env(envFor(&ProcessInfo{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("rule %d: compile %q: %w", i, r.When, err)
		}
		c.rules = append(c.rules, compiledRule{status: r.Status, source: r.When, program: program})
	}
	return c, nil
}

// DefaultClassifier returns a classifier over DefaultRules.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("default status rules: %v", err))
	}
	return c
}

// Classify returns the status for info.
func (c *Classifier) Classify(info *ProcessInfo) (Status, error) {
	if info == nil {
		return StatusUnknown, nil
	}
	env := envFor(info)
	for _, r := range c.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			return StatusUnknown, fmt.Errorf("eval %q: %w", r.source, err)
		}
		if matched, ok := out.(bool); ok && matched {
			return r.status, nil
		}
	}
	return StatusUnknown, nil
}

func envFor(info *ProcessInfo) map[string]any {
	return map[string]any{
		"state":           info.State,
		"exit_status":     info.ExitStatus,
		"has_exit_status": info.HasExitStatus,
		"type":            info.Type,
	}
}
