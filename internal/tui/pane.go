package tui

import (
	"strings"
	"sync"

	"github.com/rpimetrics/shellmux/internal/term"
)

// maxScrollback bounds per-pane line retention.
const maxScrollback = 2000

// Pane is the terminal widget bound to one session. Output arrives
// from the transport read pump while bubbletea renders on its own
// loop, so all state is mutex guarded. A notify hook pokes the UI
// after every content change.
type Pane struct {
	mu      sync.Mutex
	lines   []string
	current string
	onData  func([]byte)
	cols    int
	rows    int
	focused bool
	closed  bool

	notify func()
}

// NewPane creates an empty, un-laid-out pane.
func NewPane(notify func()) *Pane {
	return &Pane{notify: notify}
}

// Write renders raw shell output into the pane's line buffer.
func (p *Pane) Write(b []byte) (int, error) {
	p.mu.Lock()
	for _, r := range string(b) {
		switch r {
		case '\n':
			p.pushLocked(p.current)
			p.current = ""
		case '\r':
			// Carriage return restarts the line; \r\n collapses to a
			// plain line break.
			p.current = ""
		default:
			p.current += string(r)
		}
	}
	p.mu.Unlock()

	p.poke()
	return len(b), nil
}

// Writeln appends a full line, flushing any partial line first.
func (p *Pane) Writeln(line string) {
	p.mu.Lock()
	if p.current != "" {
		p.pushLocked(p.current)
		p.current = ""
	}
	// Notices carry the original's \r\n framing; the buffer is line
	// oriented already.
	line = strings.TrimPrefix(line, "\r\n")
	p.pushLocked(line)
	p.mu.Unlock()

	p.poke()
}

// pushLocked must be called with the mutex held.
func (p *Pane) pushLocked(line string) {
	p.lines = append(p.lines, line)
	if len(p.lines) > maxScrollback {
		p.lines = p.lines[len(p.lines)-maxScrollback:]
	}
}

// OnData registers the keystroke handler.
func (p *Pane) OnData(fn func(data []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = fn
}

// Input feeds keystroke bytes to the registered handler.
func (p *Pane) Input(data []byte) {
	p.mu.Lock()
	fn := p.onData
	p.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// SetLayout records the content area assigned by the UI.
func (p *Pane) SetLayout(cols, rows int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols = cols
	p.rows = rows
}

// Fit reports the pane's current geometry.
func (p *Pane) Fit() (term.Size, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cols <= 0 || p.rows <= 0 {
		return term.Size{}, term.ErrNotLaidOut
	}
	return term.Size{Cols: p.cols, Rows: p.rows}, nil
}

// Focus marks the pane as the keyboard target.
func (p *Pane) Focus() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focused = true
}

// Blur removes keyboard focus.
func (p *Pane) Blur() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focused = false
}

// Close releases the pane. Further writes are dropped.
func (p *Pane) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.lines = nil
	p.current = ""
	p.onData = nil
	return nil
}

// View renders the visible tail of the buffer, padded to the layout.
func (p *Pane) View() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rows <= 0 {
		return ""
	}

	visible := append([]string(nil), p.lines...)
	if p.current != "" {
		visible = append(visible, p.current)
	}
	if len(visible) > p.rows {
		visible = visible[len(visible)-p.rows:]
	}
	for len(visible) < p.rows {
		visible = append(visible, "")
	}
	return strings.Join(visible, "\n")
}

func (p *Pane) poke() {
	p.mu.Lock()
	fn := p.notify
	closed := p.closed
	p.mu.Unlock()
	if fn != nil && !closed {
		fn()
	}
}
