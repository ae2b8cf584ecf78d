package main

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roginn/towd-you-so/internal/chat"
)

// viewSource is the read side of chat.Conversation.
type viewSource interface {
	Snapshot() chat.View
	Updates() <-chan struct{}
}

type (
	// updatedMsg reports that the conversation view changed.
	updatedMsg struct{}
	// handledMsg carries the outcome of one submitted line.
	handledMsg struct {
		notice string
		err    error
	}
)

// model is the terminal UI: a scrolling timeline above a status line and
// the prompt. Conversation updates redraw the timeline only, so typing is
// never interrupted by streaming output.
type model struct {
	ctx      context.Context //nolint:containedctx // commands outlive Update
	src      viewSource
	repl     *repl
	styles   styles
	input    textinput.Model
	viewport viewport.Model

	view   chat.View
	notice string
	ready  bool
	width  int
	height int
}

func newModel(ctx context.Context, src viewSource, r *repl) model {
	st := defaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Ask about a parking sign... (/help for commands)"
	ti.Prompt = "> "
	ti.CharLimit = 4096
	ti.Width = 76
	ti.Focus()

	m := model{
		ctx:      ctx,
		src:      src,
		repl:     r,
		styles:   st,
		input:    ti,
		viewport: viewport.New(80, 20),
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.ctx, m.src.Updates()))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			m.setNotice("")
			return m, m.submit(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.input.Width = max(msg.Width-8, 10)
		m.layout()
		return m, nil

	case updatedMsg:
		m.refresh()
		return m, waitForUpdate(m.ctx, m.src.Updates())

	case handledMsg:
		if errors.Is(msg.err, errQuit) {
			return m, tea.Quit
		}
		if msg.err != nil {
			m.setNotice(msg.err.Error())
		} else {
			m.setNotice(msg.notice)
		}
		m.refresh()
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "starting..."
	}

	parts := []string{
		m.styles.title.Render(formatHeader(m.view)),
		m.viewport.View(),
		m.styles.status.Render(formatStatus(m.view)),
		m.styles.input.Width(max(m.width-2, 12)).Render(m.input.View()),
	}
	if m.notice != "" {
		parts = append(parts, m.styles.notice.Render(m.notice))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// refresh pulls a fresh snapshot. The timeline follows new output unless
// the user scrolled up.
func (m *model) refresh() {
	follow := m.viewport.AtBottom()
	m.view = m.src.Snapshot()
	m.viewport.SetContent(formatTimeline(m.view))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *model) setNotice(notice string) {
	m.notice = notice
	m.layout()
}

// layout gives the timeline whatever the header, status line, prompt box
// and notice leave over.
func (m *model) layout() {
	if !m.ready {
		return
	}
	chrome := 1 + 1 + 3
	if m.notice != "" {
		chrome += lipgloss.Height(m.notice)
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chrome, 1)
}

// submit runs the line off the UI goroutine; sends and session switches
// block on the network.
func (m model) submit(line string) tea.Cmd {
	ctx, r := m.ctx, m.repl
	return func() tea.Msg {
		notice, err := r.handle(ctx, line)
		return handledMsg{notice: notice, err: err}
	}
}

// waitForUpdate turns the next conversation update into a message.
func waitForUpdate(ctx context.Context, updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			return updatedMsg{}
		}
	}
}
