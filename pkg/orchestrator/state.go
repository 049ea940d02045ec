package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// State is a position of the orchestration state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateVerifying            State = "verifying"
	StateAwaitingRemediation  State = "awaiting_remediation"
	StateCollecting           State = "collecting"
	StateGeneratingArtifact   State = "generating_artifact"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExecuting            State = "executing"
	StateMonitoring           State = "monitoring"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
)

// Terminal reports whether s ends a request.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Gate reports whether s waits on a user decision.
func (s State) Gate() bool {
	switch s {
	case StateAwaitingRemediation, StateCollecting, StateAwaitingConfirmation:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateIdle:                 {StateVerifying},
	StateVerifying:            {StateAwaitingRemediation, StateCollecting, StateFailed},
	StateAwaitingRemediation:  {StateVerifying, StateFailed, StateIdle},
	StateCollecting:           {StateGeneratingArtifact, StateIdle},
	StateGeneratingArtifact:   {StateAwaitingConfirmation, StateFailed},
	StateAwaitingConfirmation: {StateExecuting, StateIdle},
	StateExecuting:            {StateMonitoring, StateFailed},
	StateMonitoring:           {StateCompleted, StateFailed},
	StateCompleted:            {StateIdle},
	StateFailed:               {StateIdle},
}

// CanTransition reports whether the table allows from → to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EventKind distinguishes history entries.
type EventKind string

const (
	EventTransition EventKind = "transition"
	EventApproval   EventKind = "approval"
	EventRejection  EventKind = "rejection"
)

// Event is one entry of the machine's history.
type Event struct {
	Kind    EventKind `json:"kind"`
	From    State     `json:"from,omitempty"`
	To      State     `json:"to,omitempty"`
	Trigger string    `json:"trigger"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

func (e Event) String() string {
	if e.Kind == EventTransition {
		return fmt.Sprintf("%s → %s (%s)", e.From, e.To, e.Trigger)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Trigger)
}

// TransitionError reports an operation invoked in a state that does not
// allow it. The machine is unchanged.
type TransitionError struct {
	Op      string
	From    State
	To      State   // set when a specific move was refused
	Allowed []State // states the operation may be invoked from
}

func (e *TransitionError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("%s: illegal transition %s → %s", e.Op, e.From, e.To)
	}
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("%s: not allowed in state %s (allowed in: %s)", e.Op, e.From, strings.Join(allowed, ", "))
}
