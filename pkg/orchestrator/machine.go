// Package orchestrator drives one phonon calculation request from
// prerequisite verification to a terminal calculation status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/artifact"
	"github.com/ormasoftchile/phonon/pkg/params"
	"github.com/ormasoftchile/phonon/pkg/prereq"
	"github.com/ormasoftchile/phonon/pkg/trace"
)

// DefaultMaxRemediationFailures is how many consecutive failed attempts on
// one item end the request.
const DefaultMaxRemediationFailures = 2

// ExecutionHandle identifies a dispatched calculation.
type ExecutionHandle struct {
	PK          int       `json:"pk"`
	Script      string    `json:"script"`
	SubmittedAt time.Time `json:"submitted_at"`
	Output      string    `json:"output,omitempty"`
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Client    *aiida.Client
	Verifier  *prereq.Verifier
	Collector *params.Collector
	Generator *artifact.Generator
	Template  *artifact.Template // nil selects the embedded default
	Trace     *trace.Writer      // optional
	Logger    *slog.Logger
	Now       func() time.Time

	MaxRemediationFailures int
}

// Machine is the orchestration state machine. All methods are safe for
// concurrent use; calls are serialized.
type Machine struct {
	mu sync.Mutex

	client      *aiida.Client
	verifier    *prereq.Verifier
	collector   *params.Collector
	generator   *artifact.Generator
	template    *artifact.Template
	trace       *trace.Writer
	log         *slog.Logger
	now         func() time.Time
	maxFailures int

	state        State
	runID        string
	material     string
	items        []prereq.Item
	failures     map[string]int
	remediations []*prereq.Remediation
	params       *params.CalculationParameters
	artifact     *artifact.GeneratedArtifact
	handle       *ExecutionHandle
	status       aiida.Status
	process      *aiida.ProcessInfo
	cause        error
	history      []Event
}

// New creates a machine in the Idle state.
func New(d Deps) *Machine {
	m := &Machine{
		client:      d.Client,
		verifier:    d.Verifier,
		collector:   d.Collector,
		generator:   d.Generator,
		template:    d.Template,
		trace:       d.Trace,
		log:         d.Logger,
		now:         d.Now,
		maxFailures: d.MaxRemediationFailures,
		state:       StateIdle,
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.collector == nil {
		m.collector = params.NewCollector(params.Defaults{})
	}
	if m.generator == nil {
		m.generator = artifact.NewGenerator(artifact.Options{Logger: m.log})
	}
	if m.maxFailures <= 0 {
		m.maxFailures = DefaultMaxRemediationFailures
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns every recorded event in order.
func (m *Machine) History() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// Request starts a new request for material: Idle → Verifying →
// AwaitingRemediation | Collecting | Failed.
func (m *Machine) Request(ctx context.Context, material string) ([]prereq.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require("request", StateIdle); err != nil {
		return nil, err
	}
	if material == "" {
		return nil, params.ValidationErrors{{Field: "material", Message: "must not be empty"}}
	}
	m.clearSession()
	m.material = material
	m.runID = trace.NewRunID()
	m.trace.SetRunID(m.runID)
	m.trace.Emit(trace.EventSessionStart, map[string]any{"material": material})
	m.log.Info("request", "material", material, "run_id", m.runID)

	m.transition(StateVerifying, "request", "")
	return m.verify(ctx, "verified")
}

// verify runs a full check from Verifying and moves on.
func (m *Machine) verify(ctx context.Context, trigger string) ([]prereq.Item, error) {
	items, err := m.verifier.Verify(ctx)
	if err != nil {
		m.fail(err, "verification")
		return nil, err
	}
	m.items = items

	if absent := prereq.Absent(items); len(absent) > 0 {
		if exhausted := m.exhausted(absent); len(exhausted) > 0 {
			perr := &PrerequisiteError{Absent: names(absent), Remediations: m.failedRemediations()}
			m.fail(perr, "remediation exhausted")
			return items, perr
		}
		m.transition(StateAwaitingRemediation, trigger, fmt.Sprintf("%d absent", len(absent)))
		return items, nil
	}
	m.transition(StateCollecting, trigger, "")
	return items, nil
}

// Remediate attempts to install the named absent items (all absent items if
// none are named), retrying each failed attempt once, then re-verifies.
func (m *Machine) Remediate(ctx context.Context, names ...string) ([]*prereq.Remediation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require("remediate", StateAwaitingRemediation); err != nil {
		return nil, err
	}
	absent := prereq.Absent(m.items)
	targets, err := selectItems(absent, names)
	if err != nil {
		return nil, err
	}

	var attempts []*prereq.Remediation
	for _, name := range targets {
		for try := 0; try < 2; try++ {
			rem := m.verifier.Remediate(ctx, name)
			attempts = append(attempts, rem)
			m.trace.Emit(trace.EventRemediation, map[string]any{
				"item":      name,
				"attempt":   try + 1,
				"exit_code": rem.ExitCode,
				"present":   rem.Present,
				"error":     rem.Err,
			})
			if rem.Succeeded() {
				m.failures[name] = 0
				break
			}
			m.failures[name]++
			m.log.Warn("remediation attempt failed", "item", name, "attempt", try+1, "consecutive_failures", m.failures[name])
			if m.failures[name] >= m.maxFailures {
				break
			}
		}
	}
	m.remediations = append(m.remediations, attempts...)

	m.transition(StateVerifying, "remediate", "")
	_, err = m.verify(ctx, "re-verified")
	return attempts, err
}

// DeclineRemediation ends the request: AwaitingRemediation → Failed.
func (m *Machine) DeclineRemediation() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require("decline_remediation", StateAwaitingRemediation); err != nil {
		return err
	}
	perr := &PrerequisiteError{Absent: names(prereq.Absent(m.items)), Declined: true}
	m.fail(perr, "remediation declined")
	return perr
}

// Collect validates answers, renders the artifact and waits for
// confirmation. Validation errors leave the machine in Collecting.
func (m *Machine) Collect(answers map[string]any) (*artifact.GeneratedArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require("collect", StateCollecting); err != nil {
		return nil, err
	}
	var listing []string
	if m.verifier != nil {
		listing = m.verifier.Listing()
	}
	p, err := m.collector.Collect(m.material, answers, listing)
	if err != nil {
		m.log.Info("parameters rejected", "error", err)
		return nil, err
	}
	m.params = p

	m.transition(StateGeneratingArtifact, "collect", "")
	art, err := m.generator.Generate(p, m.template)
	if err != nil {
		m.fail(err, "generation")
		return nil, err
	}
	m.artifact = art
	m.trace.Emit(trace.EventArtifact, map[string]any{"path": art.Path, "blake3": art.Digest})
	m.transition(StateAwaitingConfirmation, "generated", art.Path)
	return art, nil
}

// Approve records the approval signal and dispatches the artifact:
// AwaitingConfirmation → Executing → Monitoring | Failed.
func (m *Machine) Approve(ctx context.Context) (*ExecutionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require("approve", StateAwaitingConfirmation); err != nil {
		return nil, err
	}
	m.record(Event{Kind: EventApproval, Trigger: "approve", Detail: m.artifact.Path})
	m.trace.EmitApproval(m.artifact.Path, true)

	if err := m.transition(StateExecuting, "approve", ""); err != nil {
		return nil, err
	}
	pk, res, err := m.client.Run(ctx, m.artifact.Path)
	if err != nil {
		m.fail(err, "execution")
		return nil, err
	}
	m.handle = &ExecutionHandle{
		PK:          pk,
		Script:      m.artifact.Path,
		SubmittedAt: m.now().UTC(),
		Output:      res.Stdout,
	}
	if _, err := artifact.RecordPK(m.artifact.Path, pk); err != nil {
		m.log.Warn("pk not recorded", "pk", pk, "error", err)
	}
	m.status = aiida.StatusSubmitted
	m.transition(StateMonitoring, "submitted", fmt.Sprintf("pk %d", pk))
	return m.handle, nil
}

// Reject declines the artifact: AwaitingConfirmation → Idle. The file stays
// on disk.
func (m *Machine) Reject() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require("reject", StateAwaitingConfirmation); err != nil {
		return err
	}
	m.record(Event{Kind: EventRejection, Trigger: "reject", Detail: m.artifact.Path})
	m.trace.EmitApproval(m.artifact.Path, false)
	m.transition(StateIdle, "reject", "")
	return nil
}

// Abandon leaves a pending gate and returns to Idle.
func (m *Machine) Abandon() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require("abandon", StateAwaitingRemediation, StateCollecting, StateAwaitingConfirmation); err != nil {
		return err
	}
	m.transition(StateIdle, "abandon", "")
	return nil
}

// Reset returns a finished machine to Idle for the next request.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require("reset", StateCompleted, StateFailed); err != nil {
		return err
	}
	m.transition(StateIdle, "reset", "")
	return nil
}

// Poll queries the calculation once. Finished and failed processes end the
// request; unknown output keeps the machine in Monitoring and returns
// *aiida.StatusUnknownError. A failing status query fails only this poll.
func (m *Machine) Poll(ctx context.Context) (aiida.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require("poll", StateMonitoring); err != nil {
		return m.status, err
	}
	status, info, err := m.client.Show(ctx, m.handle.PK)
	m.trace.Emit(trace.EventPoll, map[string]any{"pk": m.handle.PK, "status": string(status)})
	if info != nil {
		m.process = info
	}
	if err != nil {
		var unknown *aiida.StatusUnknownError
		if errors.As(err, &unknown) {
			m.status = aiida.StatusUnknown
		}
		m.log.Warn("poll failed", "pk", m.handle.PK, "error", err)
		return m.status, err
	}

	m.status = status
	switch status {
	case aiida.StatusFinished:
		m.transition(StateCompleted, "poll", string(status))
	case aiida.StatusFailed:
		cerr := &CalculationFailedError{PK: m.handle.PK, ExitStatus: -1}
		if info != nil {
			cerr.State = info.State
			if info.HasExitStatus {
				cerr.ExitStatus = info.ExitStatus
			}
		}
		m.fail(cerr, "poll")
	}
	return status, nil
}

// Export returns exported calculation data unmodified.
func (m *Machine) Export(ctx context.Context, format string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		return "", &TransitionError{Op: "export", From: m.state, Allowed: []State{StateMonitoring, StateCompleted, StateFailed}}
	}
	return m.client.Export(ctx, m.handle.PK, format)
}

// require checks that the machine is in one of states.
func (m *Machine) require(op string, states ...State) error {
	for _, s := range states {
		if m.state == s {
			return nil
		}
	}
	return &TransitionError{Op: op, From: m.state, Allowed: states}
}

// transition moves to the next state, recording it in history and trace.
func (m *Machine) transition(to State, trigger, detail string) error {
	from := m.state
	if !CanTransition(from, to) {
		return &TransitionError{Op: trigger, From: from, To: to}
	}
	if to == StateExecuting && !m.approvedSinceConfirmation() {
		return &TransitionError{Op: trigger, From: from, To: to}
	}
	m.state = to
	m.record(Event{Kind: EventTransition, From: from, To: to, Trigger: trigger, Detail: detail})
	m.trace.EmitTransition(string(from), string(to), trigger)
	m.log.Debug("transition", "from", from, "to", to, "trigger", trigger)
	return nil
}

func (m *Machine) fail(err error, trigger string) {
	m.cause = err
	m.transition(StateFailed, trigger, err.Error())
}

func (m *Machine) record(e Event) {
	e.At = m.now().UTC()
	m.history = append(m.history, e)
}

// approvedSinceConfirmation reports whether an approval event follows the
// most recent entry into AwaitingConfirmation.
func (m *Machine) approvedSinceConfirmation() bool {
	for i := len(m.history) - 1; i >= 0; i-- {
		e := m.history[i]
		switch {
		case e.Kind == EventApproval:
			return true
		case e.Kind == EventTransition && e.To == StateAwaitingConfirmation:
			return false
		}
	}
	return false
}

func (m *Machine) clearSession() {
	m.runID = ""
	m.material = ""
	m.items = nil
	m.failures = make(map[string]int)
	m.remediations = nil
	m.params = nil
	m.artifact = nil
	m.handle = nil
	m.status = ""
	m.process = nil
	m.cause = nil
}

func (m *Machine) exhausted(absent []prereq.Item) []string {
	var out []string
	for _, it := range absent {
		if m.failures[it.Name] >= m.maxFailures {
			out = append(out, it.Name)
		}
	}
	return out
}

func (m *Machine) failedRemediations() []*prereq.Remediation {
	var out []*prereq.Remediation
	for _, r := range m.remediations {
		if !r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}

func selectItems(absent []prereq.Item, names []string) ([]string, error) {
	if len(names) == 0 {
		out := make([]string, len(absent))
		for i, it := range absent {
			out[i] = it.Name
		}
		return out, nil
	}
	known := make(map[string]bool, len(absent))
	for _, it := range absent {
		known[it.Name] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		if !known[n] {
			return nil, fmt.Errorf("remediate: %q is not an absent prerequisite (absent: %v)", n, sortedNames(absent))
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

func names(items []prereq.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func sortedNames(items []prereq.Item) []string {
	out := names(items)
	sort.Strings(out)
	return out
}
