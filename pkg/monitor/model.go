// Package monitor is the live sync dashboard shown by "till watch --tui".
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/till/internal/sync"
)

// Model is the Bubble Tea model for the dashboard
type Model struct {
	source   Source
	interval time.Duration
	ctx      context.Context
	version  string

	Width  int
	Height int

	Snap       Snapshot
	Err        error
	Cursor     int
	Syncing    bool
	LastResult *sync.ReconcileResult
	SyncErr    error

	keys    keyMap
	help    help.Model
	spinner spinner.Model
}

// tickMsg triggers a periodic snapshot refresh
type tickMsg time.Time

// snapshotMsg carries a fresh snapshot
type snapshotMsg struct {
	snap Snapshot
	err  error
}

// reconcileMsg reports the end of a manual pass
type reconcileMsg struct {
	res sync.ReconcileResult
	err error
}

// NewModel creates a dashboard reading from source every interval. Passes
// started from the dashboard are cancelled with ctx.
func NewModel(ctx context.Context, source Source, interval time.Duration, version string) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		source:   source,
		interval: interval,
		ctx:      ctx,
		version:  version,
		keys:     defaultKeyMap(),
		help:     help.New(),
		spinner:  sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.scheduleTick(), m.spinner.Tick)
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.source.Snapshot()
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) reconcile() tea.Cmd {
	return func() tea.Msg {
		res, err := m.source.Reconcile(m.ctx)
		return reconcileMsg{res: res, err: err}
	}
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width, m.Height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.scheduleTick())

	case snapshotMsg:
		m.Err = msg.err
		if msg.err == nil {
			m.Snap = msg.snap
			m.clampCursor()
		}
		return m, nil

	case reconcileMsg:
		m.Syncing = false
		m.SyncErr = msg.err
		res := msg.res
		m.LastResult = &res
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		m.Cursor--
		m.clampCursor()
	case key.Matches(msg, m.keys.Down):
		m.Cursor++
		m.clampCursor()
	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetch()
	case key.Matches(msg, m.keys.Sync):
		if m.Syncing {
			return m, nil
		}
		m.Syncing = true
		return m, m.reconcile()
	}
	return m, nil
}

func (m *Model) clampCursor() {
	if n := len(m.Snap.Pending); m.Cursor >= n {
		m.Cursor = n - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
}

// Selected returns the highlighted pending row, nil when nothing is pending
func (m Model) Selected() *PendingRow {
	if len(m.Snap.Pending) == 0 {
		return nil
	}
	return &m.Snap.Pending[m.Cursor]
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}
