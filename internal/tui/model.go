// Package tui renders the multiplexer: a tab bar, the active session's
// pane, a status bar with connection state and clock, the tab context
// menu, and the credential modal that gates everything until a token
// is supplied.
package tui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/rpimetrics/shellmux/internal/client"
	"github.com/rpimetrics/shellmux/internal/domain/connection"
	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/shared/id"
	"github.com/rpimetrics/shellmux/internal/term"
)

type mode int

const (
	modeNormal mode = iota
	modeCredential
	modeRename
)

var menuItems = []string{"Rename", "Duplicate", "Close", "Close Others"}

type (
	refreshMsg  struct{}
	clockMsg    time.Time
	promptMsg   struct{}
	stateMsg    struct{ state connection.State }
	startErrMsg struct{ err error }
)

// Model is the bubbletea model for the whole client UI.
type Model struct {
	client  *client.Client
	log     *logging.Logger
	program *tea.Program

	// sizeMu guards width/height; the widget factory reads them from
	// the transport read goroutine while the update loop writes them.
	sizeMu sync.Mutex
	width  int
	height int

	state connection.State
	clock time.Time

	mode         mode
	input        textinput.Model
	renameTarget id.SessionID
	menuCursor   int

	err      error
	quitting bool
}

// NewModel creates the UI model. SetClient must follow before the
// program runs; the widget factory closes over the model.
func NewModel(log *logging.Logger) *Model {
	input := textinput.New()
	input.CharLimit = 256

	return &Model{
		log:   log,
		input: input,
		clock: time.Now(),
	}
}

// Factory builds panes for new sessions. It runs on the transport read
// goroutine when the server hands out the first shell.
func (m *Model) Factory() term.Factory {
	return func() (term.Widget, error) {
		p := NewPane(m.refresh)
		if w, h := m.size(); w > 0 {
			p.SetLayout(w, contentRows(h))
		}
		return p, nil
	}
}

func (m *Model) setSize(w, h int) {
	m.sizeMu.Lock()
	m.width, m.height = w, h
	m.sizeMu.Unlock()
}

func (m *Model) size() (int, int) {
	m.sizeMu.Lock()
	defer m.sizeMu.Unlock()
	return m.width, m.height
}

// SetClient attaches the assembled client.
func (m *Model) SetClient(c *client.Client) {
	m.client = c
	m.state = c.State()
}

// AttachProgram wires async callbacks to the running program.
func (m *Model) AttachProgram(p *tea.Program) {
	m.program = p
	m.client.OnCredentialPrompt(func() { p.Send(promptMsg{}) })
	m.client.OnStateChange(func(s connection.State) { p.Send(stateMsg{state: s}) })
}

func (m *Model) refresh() {
	if m.program != nil {
		m.program.Send(refreshMsg{})
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.startClient, tickClock())
}

func (m *Model) startClient() tea.Msg {
	if err := m.client.Start(context.Background()); err != nil {
		return startErrMsg{err: err}
	}
	return nil
}

func tickClock() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

// contentRows is the pane height: everything but tab and status bars.
func contentRows(height int) int {
	rows := height - 2
	if rows < 0 {
		rows = 0
	}
	return rows
}

func (m *Model) layoutPanes() {
	width, height := m.size()
	for _, w := range m.client.Sessions().Widgets() {
		if p, ok := w.(*Pane); ok {
			p.SetLayout(width, contentRows(height))
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		m.layoutPanes()
		m.client.Resizer().OnWindowResize()
		return m, nil

	case tea.FocusMsg:
		// The terminal became visible again; sizes measured while the
		// window was hidden are unreliable.
		m.client.Resizer().OnVisibilityRestored()
		return m, nil

	case clockMsg:
		m.clock = time.Time(msg)
		return m, tickClock()

	case refreshMsg:
		return m, nil

	case stateMsg:
		m.state = msg.state
		return m, nil

	case promptMsg:
		m.mode = modeCredential
		m.input.Placeholder = "API key"
		m.input.EchoMode = textinput.EchoPassword
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case startErrMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case modeCredential:
		return m.handleCredentialKey(msg)
	case modeRename:
		return m.handleRenameKey(msg)
	}
	if visible, _ := m.client.Menu().Visible(); visible {
		return m.handleMenuKey(msg)
	}
	return m.handleNormalKey(msg)
}

func (m *Model) handleCredentialKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		value := m.input.Value()
		if value == "" {
			return m, nil
		}
		m.mode = modeNormal
		if err := m.client.SetCredential(value); err != nil {
			m.log.Warn("credential submit failed", zap.Error(err))
		}
		return m, nil
	case tea.KeyCtrlQ:
		return m.quit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleRenameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.client.Sessions().Rename(m.renameTarget, m.input.Value())
		m.mode = modeNormal
		return m, nil
	case tea.KeyEsc:
		m.mode = modeNormal
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleMenuKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	menu := m.client.Menu()
	switch msg.String() {
	case "up", "k":
		if m.menuCursor > 0 {
			m.menuCursor--
		}
	case "down", "j":
		if m.menuCursor < len(menuItems)-1 {
			m.menuCursor++
		}
	case "esc", "ctrl+o":
		menu.Close()
	case "enter":
		switch menuItems[m.menuCursor] {
		case "Rename":
			m.renameTarget = menu.Target()
			menu.Close()
			m.mode = modeRename
			m.input.Placeholder = "New title"
			m.input.EchoMode = textinput.EchoNormal
			m.input.SetValue("")
			m.input.Focus()
			return m, textinput.Blink
		case "Duplicate":
			menu.Duplicate()
		case "Close":
			menu.CloseSession()
		case "Close Others":
			menu.CloseOthers()
		}
	}
	return m, nil
}

func (m *Model) handleNormalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sessions := m.client.Sessions()

	switch msg.String() {
	case "ctrl+q":
		return m.quit()
	case "f12":
		if err := m.client.Logout(); err != nil {
			m.log.Warn("logout teardown", zap.Error(err))
		}
		m.quitting = true
		return m, tea.Quit
	case "ctrl+t":
		if _, err := sessions.Create(""); err != nil {
			m.log.Warn("new tab failed", zap.Error(err))
		}
		return m, nil
	case "ctrl+w":
		if active, ok := sessions.ActiveID(); ok {
			sessions.Close(active)
		}
		return m, nil
	case "shift+left":
		m.switchTab(-1)
		return m, nil
	case "shift+right":
		m.switchTab(1)
		return m, nil
	case "ctrl+o":
		if active, ok := sessions.ActiveID(); ok {
			m.menuCursor = 0
			m.client.Menu().Open(active, 0, 1)
		}
		return m, nil
	}

	// Everything else is shell input for the active pane.
	if data := keyBytes(msg); data != nil {
		if w, ok := sessions.ActiveWidget(); ok {
			if p, ok := w.(*Pane); ok {
				p.Input(data)
			}
		}
	}
	return m, nil
}

func (m *Model) switchTab(delta int) {
	tabs := m.client.Sessions().Tabs()
	if len(tabs) < 2 {
		return
	}
	for i, tab := range tabs {
		if tab.Active {
			next := (i + delta + len(tabs)) % len(tabs)
			m.client.Sessions().Activate(tabs[next].ID)
			return
		}
	}
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	if err := m.client.Close(); err != nil {
		m.log.Warn("teardown", zap.Error(err))
	}
	return m, tea.Quit
}

func (m *Model) View() string {
	if m.err != nil {
		return statusErrStyle.Render(fmt.Sprintf("shellmux: %v\n", m.err))
	}
	if m.quitting {
		return ""
	}
	if w, _ := m.size(); w == 0 {
		return "loading..."
	}

	var content string
	switch {
	case m.mode == modeCredential:
		content = m.modalView("Server credential required")
	case m.mode == modeRename:
		content = m.modalView("Rename session")
	default:
		content = m.paneView()
	}

	return m.tabBarView() + "\n" + content + "\n" + m.statusBarView()
}

func (m *Model) paneView() string {
	var body string
	if w, ok := m.client.Sessions().ActiveWidget(); ok {
		if p, ok := w.(*Pane); ok {
			body = p.View()
		}
	}

	if visible, _ := m.client.Menu().Visible(); visible {
		return lipgloss.JoinVertical(lipgloss.Left, m.menuView(), body)
	}
	return body
}

func (m *Model) menuView() string {
	var rows string
	for i, item := range menuItems {
		style := menuItemStyle
		if i == m.menuCursor {
			style = menuCursorStyle
		}
		if rows != "" {
			rows += "\n"
		}
		rows += style.Render(item)
	}
	return menuStyle.Render(rows)
}

func (m *Model) modalView(title string) string {
	width, height := m.size()
	box := modalStyle.Render(title + "\n\n" + m.input.View())
	return lipgloss.Place(width, contentRows(height), lipgloss.Center, lipgloss.Center, box)
}

func (m *Model) tabBarView() string {
	var bar string
	for _, tab := range m.client.Sessions().Tabs() {
		style := tabStyle
		if tab.Active {
			style = tabActiveStyle
		}
		bar = lipgloss.JoinHorizontal(lipgloss.Top, bar, style.Render(tab.Title))
	}
	return bar
}

func (m *Model) statusBarView() string {
	var stateView string
	switch m.state {
	case connection.StateAuthenticated:
		stateView = statusOKStyle.Render("● " + m.state.String())
	case connection.StateReconnectFailed:
		stateView = statusErrStyle.Render("● " + m.state.String())
	default:
		stateView = statusWarnStyle.Render("● " + m.state.String())
	}

	hints := statusStyle.Render("^T new  ^W close  ^O menu  shift+←/→ switch  ^Q quit")
	clock := statusStyle.Render(m.clock.Format("15:04:05"))

	width, _ := m.size()
	left := stateView + "  " + hints
	gap := width - lipgloss.Width(left) - lipgloss.Width(clock)
	if gap < 1 {
		gap = 1
	}
	return left + lipgloss.NewStyle().Width(gap).Render("") + clock
}
