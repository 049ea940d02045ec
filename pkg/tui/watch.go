package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/orchestrator"
)

// Poller is the part of the machine the watch view drives.
type Poller interface {
	Poll(ctx context.Context) (aiida.Status, error)
	State() orchestrator.State
}

// WatchModel is the Bubble Tea model of `phonon watch`.
type WatchModel struct {
	poller  Poller
	pk      int
	policy  orchestrator.Policy
	spinner spinner.Model

	ctx    context.Context
	cancel context.CancelFunc

	interval time.Duration
	polls    int
	status   aiida.Status
	state    orchestrator.State
	lastErr  error
	started  time.Time
	done     bool
	width    int
}

// NewWatchModel creates a watch model for the calculation pk.
func NewWatchModel(p Poller, pk int, policy orchestrator.Policy) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = pendingStyle
	ctx, cancel := context.WithCancel(context.Background())
	if policy.Initial <= 0 {
		policy = orchestrator.DefaultPolicy()
	}
	return WatchModel{
		poller:   p,
		pk:       pk,
		policy:   policy,
		spinner:  s,
		ctx:      ctx,
		cancel:   cancel,
		interval: policy.Initial,
		state:    p.State(),
		started:  time.Now(),
	}
}

// --- Messages ---

type pollMsg struct {
	status aiida.Status
	err    error
}

type tickMsg struct{}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m WatchModel) poll() tea.Cmd {
	return func() tea.Msg {
		st, err := m.poller.Poll(m.ctx)
		return pollMsg{status: st, err: err}
	}
}

func (m WatchModel) wait(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return tickMsg{} })
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case pollMsg:
		m.polls++
		m.status = msg.status
		m.lastErr = msg.err
		m.state = m.poller.State()
		if m.state != orchestrator.StateMonitoring {
			m.done = true
			m.cancel()
			return m, tea.Quit
		}
		if m.policy.MaxPolls > 0 && m.polls >= m.policy.MaxPolls {
			m.done = true
			m.lastErr = orchestrator.ErrPollBudgetExhausted
			return m, tea.Quit
		}
		d := m.interval
		m.interval = m.policy.Next(m.interval)
		return m, m.wait(d)

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(Header(fmt.Sprintf("phonon watch · process %d", m.pk)))
	b.WriteString("\n\n")

	glyph := StatusGlyph(m.status)
	if !m.done {
		glyph = m.spinner.View()
	}
	status := string(m.status)
	if status == "" {
		status = "waiting for first poll"
	}
	fmt.Fprintf(&b, "  %s %s\n", glyph, status)
	fmt.Fprintf(&b, "  state    %s\n", StateBadge(m.state))
	fmt.Fprintf(&b, "  polls    %d\n", m.polls)
	fmt.Fprintf(&b, "  elapsed  %s\n", time.Since(m.started).Round(time.Second))
	if !m.done {
		fmt.Fprintf(&b, "  next in  %s\n", m.interval)
	}
	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(boxStyle.Render(failStyle.Render(m.lastErr.Error())))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  q quit"))
	b.WriteString("\n")
	return b.String()
}

// Status returns the last observed status.
func (m WatchModel) Status() aiida.Status { return m.status }

// Err returns the last poll error.
func (m WatchModel) Err() error { return m.lastErr }

// Done reports whether the calculation left Monitoring.
func (m WatchModel) Done() bool { return m.done }
