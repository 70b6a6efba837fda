// Package tui is the interactive console: a terminal chat against the relay
// for driving typed queries and watching what the assistant does, without a
// browser in the loop.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/client"
	"github.com/glowpath/glowpath/internal/config"
	"github.com/glowpath/glowpath/internal/protocol"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")).Padding(0, 1)
	statusOKStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	statusBadStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	youStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	visualStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Bubble Tea messages bridged from the relay connection.

type connectedMsg struct{ sessionID string }

type disconnectedMsg struct{ err error }

type assistantMsg struct {
	text     string
	commands []protocol.VisualCommand
}

type drawMsg struct{ selector, label string }

type clearMsg struct{}

type sequenceMsg struct{ steps []protocol.SequenceStep }

type serverErrMsg struct{ detail string }

// Model is the root Bubble Tea model.
type Model struct {
	conn   *client.Connection
	events chan tea.Msg

	vp       viewport.Model
	input    textinput.Model
	renderer *glamour.TermRenderer

	lines     []string
	connected bool
	sessionID string
	width     int
	height    int
	ready     bool
}

// New builds the console model and its relay connection. Connect happens in
// Init so startup failures surface inside the UI.
func New(cfg *config.Config, log *zap.Logger) *Model {
	events := make(chan tea.Msg, 64)
	push := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}

	handlers := client.Handlers{
		OnConnected: func(id string) { push(connectedMsg{sessionID: id}) },
		OnAssistantResponse: func(m protocol.Message) {
			push(assistantMsg{text: m.Text, commands: m.VisualCommands})
		},
		OnDraw:       func(m protocol.Message) { push(drawMsg{selector: m.Selector, label: m.Label}) },
		OnClear:      func(protocol.Message) { push(clearMsg{}) },
		OnSequence:   func(m protocol.Message) { push(sequenceMsg{steps: m.Steps}) },
		OnError:      func(detail string) { push(serverErrMsg{detail: detail}) },
		OnDisconnect: func(err error) { push(disconnectedMsg{err: err}) },
	}

	conn := client.New(cfg.Client.URL, cfg.Client.ReconnectInterval, cfg.Client.MaxReconnectAttempts, handlers, log)

	input := textinput.New()
	input.Placeholder = "Ask about the page..."
	input.Focus()

	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))

	return &Model{
		conn:     conn,
		events:   events,
		input:    input,
		renderer: renderer,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.connectCmd(), m.waitForEvent(), textinput.Blink)
}

func (m *Model) connectCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.conn.Connect(); err != nil {
			return disconnectedMsg{err: err}
		}
		return nil
	}
}

// waitForEvent bridges the connection's callback world into Bubble Tea, one
// message per command.
func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 4
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.vp = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.conn.Close()
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.conn.SendQuery(text, nil)
				m.append(youStyle.Render("you") + "  " + text)
				m.input.Reset()
			}
			return m, nil
		}

	case connectedMsg:
		m.connected = true
		m.sessionID = msg.sessionID
		m.append(visualStyle.Render("connected, session " + msg.sessionID))
		return m, m.waitForEvent()

	case disconnectedMsg:
		m.connected = false
		detail := "connection lost"
		if msg.err != nil {
			detail = fmt.Sprintf("connection lost: %v", msg.err)
		}
		m.append(errorStyle.Render(detail))
		return m, m.waitForEvent()

	case assistantMsg:
		m.append(m.renderAssistant(msg.text))
		for _, cmd := range msg.commands {
			m.append(visualStyle.Render(describeCommand(cmd)))
		}
		return m, m.waitForEvent()

	case drawMsg:
		label := msg.label
		if label == "" {
			label = msg.selector
		}
		m.append(visualStyle.Render("→ highlight " + label + " (" + msg.selector + ")"))
		return m, m.waitForEvent()

	case clearMsg:
		m.append(visualStyle.Render("→ overlays cleared"))
		return m, m.waitForEvent()

	case sequenceMsg:
		m.append(visualStyle.Render(fmt.Sprintf("→ tour with %d stops", len(msg.steps))))
		return m, m.waitForEvent()

	case serverErrMsg:
		m.append(errorStyle.Render("server: " + msg.detail))
		return m, m.waitForEvent()
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) renderAssistant(text string) string {
	if m.renderer != nil {
		if out, err := m.renderer.Render(text); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return text
}

func describeCommand(cmd protocol.VisualCommand) string {
	switch cmd.Kind {
	case protocol.CommandClear:
		return "→ overlays cleared"
	case protocol.CommandHighlight:
		return "→ highlight " + cmd.Selector
	case protocol.CommandSequence:
		return fmt.Sprintf("→ tour with %d stops", len(cmd.Steps))
	default:
		return "→ " + string(cmd.Kind)
	}
}

func (m *Model) append(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.vp.SetContent(strings.Join(m.lines, "\n"))
	m.vp.GotoBottom()
}

func (m *Model) View() string {
	if !m.ready {
		return "starting..."
	}

	status := statusBadStyle.Render("● offline")
	if m.connected {
		status = statusOKStyle.Render("● " + m.sessionID)
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("glowpath console"), " ", status)

	return header + "\n" + m.vp.View() + "\n\n" + m.input.View()
}
