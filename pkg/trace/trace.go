// Package trace implements the orchestrator's append-only JSONL audit trail.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType enumerates all trace event types.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventTransition   EventType = "transition"
	EventCommand      EventType = "command"
	EventRemediation  EventType = "remediation"
	EventApproval     EventType = "approval"
	EventArtifact     EventType = "artifact"
	EventPoll         EventType = "poll"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewRunID returns a fresh, time-sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// Writer writes trace events to an append-only JSONL stream. A nil *Writer
// discards everything, so callers need no guards.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	runID  string
	enc    *json.Encoder
	now    func() time.Time
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:     w,
		runID: runID,
		enc:   json.NewEncoder(w),
		now:   time.Now,
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// RunID returns the identifier stamped on every event.
func (tw *Writer) RunID() string {
	if tw == nil {
		return ""
	}
	return tw.runID
}

// SetRunID switches the identifier for subsequent events.
func (tw *Writer) SetRunID(id string) {
	if tw == nil {
		return
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.runID = id
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: tw.now().UTC(),
		RunID:     tw.runID,
		Data:      data,
	}
	return tw.enc.Encode(evt)
}

// EmitTransition emits a transition event.
func (tw *Writer) EmitTransition(from, to, trigger string) error {
	return tw.Emit(EventTransition, map[string]any{
		"from":    from,
		"to":      to,
		"trigger": trigger,
	})
}

// EmitCommand emits a command event for one external invocation.
func (tw *Writer) EmitCommand(argv []string, exitCode int, duration time.Duration, err error) error {
	data := map[string]any{
		"argv":      argv,
		"exit_code": exitCode,
		"duration":  duration.String(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return tw.Emit(EventCommand, data)
}

// EmitApproval emits an approval event.
func (tw *Writer) EmitApproval(artifact string, approved bool) error {
	return tw.Emit(EventApproval, map[string]any{
		"artifact": artifact,
		"approved": approved,
	})
}

// ReadFile reads every event of a JSONL trace file.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a JSONL event stream.
func Read(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 1MB max line

	var events []Event
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(b, &evt); err != nil {
			return events, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("read trace: %w", err)
	}
	return events, nil
}
