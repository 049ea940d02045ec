package orchestrator

import (
	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/artifact"
	"github.com/ormasoftchile/phonon/pkg/params"
	"github.com/ormasoftchile/phonon/pkg/prereq"
)

// Snapshot is a read-only view of the current request.
type Snapshot struct {
	State        State                         `json:"state"`
	RunID        string                        `json:"run_id,omitempty"`
	Material     string                        `json:"material,omitempty"`
	Items        []prereq.Item                 `json:"items,omitempty"`
	Remediations []*prereq.Remediation         `json:"remediations,omitempty"`
	Parameters   *params.CalculationParameters `json:"parameters,omitempty"`
	Artifact     *artifact.GeneratedArtifact   `json:"artifact,omitempty"`
	Handle       *ExecutionHandle              `json:"handle,omitempty"`
	Status       aiida.Status                  `json:"status,omitempty"`
	Process      *aiida.ProcessInfo            `json:"process,omitempty"`
	Error        string                        `json:"error,omitempty"`
}

// Snapshot returns the current request state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		State:      m.state,
		RunID:      m.runID,
		Material:   m.material,
		Parameters: m.params,
		Artifact:   m.artifact,
		Handle:     m.handle,
		Status:     m.status,
		Process:    m.process,
	}
	s.Items = append(s.Items, m.items...)
	s.Remediations = append(s.Remediations, m.remediations...)
	if m.cause != nil {
		s.Error = m.cause.Error()
	}
	return s
}

// Cause returns the error that moved the machine to Failed, if any.
func (m *Machine) Cause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// Handle returns the execution handle once a calculation was dispatched.
func (m *Machine) Handle() *ExecutionHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}
