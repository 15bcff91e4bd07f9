// Package ui is the terminal front end: live status, a spectrum display and
// the recording and visualization controls.
package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/satindergrewal/infinitechno/internal/engine"
	"github.com/satindergrewal/infinitechno/internal/viz"
)

// refresh is the redraw interval.
const refresh = 50 * time.Millisecond

// Controller is the part of the engine the UI drives.
type Controller interface {
	Snapshot() engine.Snapshot
	ToggleRecording()
	ToggleVizMode()
}

// Feed provides the latest visualization summary.
type Feed interface {
	Latest() (viz.Summary, bool)
}

type tickMsg time.Time

// Model polls the engine on a timer. It never blocks the audio path.
type Model struct {
	ctl  Controller
	feed Feed
	keys keyMap
	help help.Model

	snap  engine.Snapshot
	sum   viz.Summary
	width int
	quit  bool
}

// NewModel returns a model bound to ctl and feed.
func NewModel(ctl Controller, feed Feed) Model {
	return Model{
		ctl:  ctl,
		feed: feed,
		keys: newKeyMap(),
		help: help.New(),
		snap: ctl.Snapshot(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.poll()
		return m, tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quit = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Record):
			m.ctl.ToggleRecording()
		case key.Matches(msg, m.keys.Viz):
			m.ctl.ToggleVizMode()
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}
	return m, nil
}

func (m *Model) poll() {
	m.snap = m.ctl.Snapshot()
	if s, ok := m.feed.Latest(); ok {
		m.sum = s
	}
}

// Run shows the UI until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctl Controller, feed Feed) error {
	p := tea.NewProgram(NewModel(ctl, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
