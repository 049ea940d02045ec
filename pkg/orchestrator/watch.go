package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/ormasoftchile/phonon/pkg/aiida"
)

// ErrPollBudgetExhausted is returned by Watch when MaxPolls or Deadline is
// reached before the calculation ends.
var ErrPollBudgetExhausted = errors.New("poll budget exhausted")

// Policy is an exponential backoff schedule for Watch. Zero MaxPolls or
// Deadline means unbounded.
type Policy struct {
	Initial  time.Duration `yaml:"initial,omitempty"   json:"initial,omitempty"`
	Factor   float64       `yaml:"factor,omitempty"    json:"factor,omitempty"`
	Max      time.Duration `yaml:"max,omitempty"       json:"max,omitempty"`
	MaxPolls int           `yaml:"max_polls,omitempty" json:"max_polls,omitempty"`
	Deadline time.Duration `yaml:"deadline,omitempty"  json:"deadline,omitempty"`
}

// DefaultPolicy polls after 10s, growing by half each time up to 5m.
func DefaultPolicy() Policy {
	return Policy{Initial: 10 * time.Second, Factor: 1.5, Max: 5 * time.Minute}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

// Next returns the interval that follows cur.
func (p Policy) Next(cur time.Duration) time.Duration {
	p = p.normalized()
	next := time.Duration(float64(cur) * p.Factor)
	if next > p.Max || next <= 0 {
		return p.Max
	}
	return next
}

// PollFunc observes every poll made by Watch.
type PollFunc func(n int, status aiida.Status, err error)

// Watch polls m until the calculation reaches a terminal status, ctx is
// done, or the policy's budget runs out. Transient poll errors are reported
// to onPoll and polling continues.
func Watch(ctx context.Context, m *Machine, policy Policy, onPoll PollFunc) (aiida.Status, error) {
	policy = policy.normalized()
	var deadline <-chan time.Time
	if policy.Deadline > 0 {
		timer := time.NewTimer(policy.Deadline)
		defer timer.Stop()
		deadline = timer.C
	}

	interval := policy.Initial
	for n := 1; ; n++ {
		status, err := m.Poll(ctx)
		if onPoll != nil {
			onPoll(n, status, err)
		}
		var terr *TransitionError
		if errors.As(err, &terr) {
			return status, err
		}
		if m.State().Terminal() {
			return status, nil
		}
		if policy.MaxPolls > 0 && n >= policy.MaxPolls {
			return status, ErrPollBudgetExhausted
		}

		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return status, ctx.Err()
		case <-deadline:
			wait.Stop()
			return status, ErrPollBudgetExhausted
		case <-wait.C:
		}
		interval = policy.Next(interval)
	}
}
