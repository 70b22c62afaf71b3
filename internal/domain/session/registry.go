// Package session implements the tab registry: an ordered collection
// of terminal sessions with exactly one active session whenever the
// registry is non-empty. The registry is the single writer of session
// lifecycle state; the connection layer only reacts to it and inbound
// events are routed by id, so stale events fall out as silent drops.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/infrastructure/monitoring"
	"github.com/rpimetrics/shellmux/internal/shared/id"
	"github.com/rpimetrics/shellmux/internal/term"
	"github.com/rpimetrics/shellmux/internal/transport"
)

// ErrUnknownSession is returned by Measure for ids no longer registered.
var ErrUnknownSession = errors.New("unknown session")

// Emitter is the outbound surface the registry needs from the
// transport. Connected gates keystroke forwarding.
type Emitter interface {
	Emit(event string, payload any) error
	Connected() bool
}

// Registry owns the ordered session list and the active index.
type Registry struct {
	log     *logging.Logger
	metrics *monitoring.Metrics
	emitter Emitter
	factory term.Factory
	alloc   *id.Allocator

	mu         sync.Mutex
	sessions   []*Session
	active     int
	reconciler func(id.SessionID)
}

// NewRegistry creates an empty registry.
func NewRegistry(emitter Emitter, factory term.Factory, log *logging.Logger) *Registry {
	return &Registry{
		log:     log,
		emitter: emitter,
		factory: factory,
		alloc:   id.NewAllocator(),
		active:  -1,
	}
}

// WithMetrics adds metrics tracking to the registry.
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	return r
}

// SetReconciler installs the size-reconciliation hook invoked after a
// session is created or activated. Must be set before events flow.
func (r *Registry) SetReconciler(fn func(id.SessionID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconciler = fn
}

// Create registers a new session, asks the server for a shell bound to
// its id and current size, and activates it. An empty title gets the
// "Terminal N" default.
func (r *Registry) Create(title string) (id.SessionID, error) {
	r.mu.Lock()
	sid, err := r.createLocked(title)
	r.mu.Unlock()
	if err != nil {
		return "", err
	}

	r.reconcile(sid)
	return sid, nil
}

// createLocked must be called with the mutex held.
func (r *Registry) createLocked(title string) (id.SessionID, error) {
	sid, ordinal := r.alloc.NextSessionID()
	if title == "" {
		title = fmt.Sprintf("Terminal %d", ordinal)
	}

	widget, err := r.factory()
	if err != nil {
		return "", fmt.Errorf("create widget: %w", err)
	}

	// Keystrokes forward to the shell only while connected; offline
	// input is dropped, the server rebuilds shells after re-auth.
	widget.OnData(func(data []byte) {
		if !r.emitter.Connected() {
			return
		}
		if err := r.emitter.Emit(transport.EventShellInput, transport.ShellInput{
			SessionID: string(sid),
			Input:     string(data),
		}); err != nil {
			r.log.Debug("dropping input", zap.String("session", string(sid)), zap.Error(err))
		}
	})

	size, err := widget.Fit()
	if err != nil {
		// Not laid out yet; the post-create reconciliation corrects it.
		size = term.Size{Cols: 80, Rows: 24}
	}

	if err := r.emitter.Emit(transport.EventCreateShell, transport.CreateShell{
		SessionID: string(sid),
		Cols:      size.Cols,
		Rows:      size.Rows,
	}); err != nil {
		r.log.Warn("create_shell not sent", zap.String("session", string(sid)), zap.Error(err))
	}

	if r.active >= 0 {
		r.sessions[r.active].Widget.Blur()
	}
	r.sessions = append(r.sessions, &Session{ID: sid, Title: title, Widget: widget})
	r.active = len(r.sessions) - 1
	widget.Focus()

	if r.metrics != nil {
		r.metrics.SessionsCreated.Inc()
		r.metrics.SessionsActive.Set(float64(len(r.sessions)))
	}
	r.log.Info("session created", zap.String("session", string(sid)), zap.String("title", title))
	return sid, nil
}

// Activate makes the target session the active one. Unknown ids are a
// logged no-op; re-activating the active session is idempotent. Either
// way the target is re-measured, since a widget laid out while hidden
// only learns its true size once shown.
func (r *Registry) Activate(sid id.SessionID) {
	r.mu.Lock()
	idx := r.indexLocked(sid)
	if idx < 0 {
		r.mu.Unlock()
		r.log.Warn("activate: unknown session", zap.String("session", string(sid)))
		return
	}
	if idx != r.active && r.active >= 0 {
		r.sessions[r.active].Widget.Blur()
	}
	r.active = idx
	r.sessions[idx].Widget.Focus()
	r.mu.Unlock()

	r.reconcile(sid)
}

// Close tears the session down: widget released, server shell closed,
// active index redefined. Closing the last session creates a fresh
// replacement so an authenticated client never shows zero tabs.
func (r *Registry) Close(sid id.SessionID) {
	r.mu.Lock()
	idx := r.indexLocked(sid)
	if idx < 0 {
		r.mu.Unlock()
		r.log.Warn("close: unknown session", zap.String("session", string(sid)))
		return
	}

	r.closeLocked(idx)
	wasActive := idx == r.active

	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)

	var next id.SessionID
	switch {
	case wasActive && len(r.sessions) > 0:
		// Prefer the same visual position, fall back to the last tab.
		r.active = idx
		if r.active > len(r.sessions)-1 {
			r.active = len(r.sessions) - 1
		}
		r.sessions[r.active].Widget.Focus()
		next = r.sessions[r.active].ID
	case wasActive:
		r.active = -1
		if created, err := r.createLocked(""); err != nil {
			r.log.Error("replacement session failed", zap.Error(err))
		} else {
			next = created
		}
	case idx < r.active:
		// An earlier tab closed; keep pointing at the same session.
		r.active--
	}

	if r.metrics != nil {
		r.metrics.SessionsClosed.Inc()
		r.metrics.SessionsActive.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()

	if next != "" {
		r.reconcile(next)
	}
}

// closeLocked destroys the widget at idx and requests server teardown.
func (r *Registry) closeLocked(idx int) {
	s := r.sessions[idx]
	if err := s.Widget.Close(); err != nil {
		r.log.Warn("widget close failed", zap.String("session", string(s.ID)), zap.Error(err))
	}
	if err := r.emitter.Emit(transport.EventCloseShell, transport.CloseShell{
		SessionID: string(s.ID),
	}); err != nil {
		r.log.Debug("close_shell not sent", zap.String("session", string(s.ID)), zap.Error(err))
	}
	r.log.Info("session closed", zap.String("session", string(s.ID)))
}

// Rename updates the display label. Whitespace-only titles are ignored;
// the server is not involved.
func (r *Registry) Rename(sid id.SessionID, title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(sid); idx >= 0 {
		r.sessions[idx].Title = title
	}
}

// Duplicate creates a fresh session titled after the source with a copy
// marker. Terminal content and shell state are not copied.
func (r *Registry) Duplicate(sid id.SessionID) (id.SessionID, error) {
	r.mu.Lock()
	idx := r.indexLocked(sid)
	if idx < 0 {
		r.mu.Unlock()
		return "", ErrUnknownSession
	}
	title := r.sessions[idx].Title + " (Copy)"
	r.mu.Unlock()

	return r.Create(title)
}

// CloseOthers closes every session except the target, which becomes
// active.
func (r *Registry) CloseOthers(sid id.SessionID) {
	r.mu.Lock()
	idx := r.indexLocked(sid)
	if idx < 0 {
		r.mu.Unlock()
		return
	}

	keep := r.sessions[idx]
	for i := range r.sessions {
		if i != idx {
			r.closeLocked(i)
			if r.metrics != nil {
				r.metrics.SessionsClosed.Inc()
			}
		}
	}
	r.sessions = []*Session{keep}
	r.active = 0
	keep.Widget.Focus()
	if r.metrics != nil {
		r.metrics.SessionsActive.Set(1)
	}
	r.mu.Unlock()

	r.reconcile(keep.ID)
}

// HandleOutput routes shell output to the target widget. Output for ids
// no longer registered is dropped silently.
func (r *Registry) HandleOutput(data json.RawMessage) {
	var out transport.ShellOutput
	if err := sonic.Unmarshal(data, &out); err != nil {
		r.log.Warn("malformed shell_output", zap.Error(err))
		return
	}

	widget := r.widget(id.SessionID(out.SessionID))
	if widget == nil {
		r.log.Debug("dropping output for unknown session", zap.String("session", out.SessionID))
		return
	}
	if _, err := widget.Write([]byte(out.Output)); err != nil {
		r.log.Warn("widget write failed", zap.String("session", out.SessionID), zap.Error(err))
	}
}

// HandleError surfaces a server-reported, session-scoped error inside
// that session's widget. The session stays open.
func (r *Registry) HandleError(data json.RawMessage) {
	var se transport.ShellError
	if err := sonic.Unmarshal(data, &se); err != nil {
		r.log.Warn("malformed shell_error", zap.Error(err))
		return
	}

	widget := r.widget(id.SessionID(se.SessionID))
	if widget == nil {
		r.log.Debug("dropping error for unknown session", zap.String("session", se.SessionID))
		return
	}
	widget.Writeln("\r\n\x1b[31m" + se.Error + "\x1b[0m")
}

// Broadcast writes a notice line into every open widget.
func (r *Registry) Broadcast(line string) {
	r.mu.Lock()
	widgets := make([]term.Widget, len(r.sessions))
	for i, s := range r.sessions {
		widgets[i] = s.Widget
	}
	r.mu.Unlock()

	for _, w := range widgets {
		w.Writeln(line)
	}
}

// Clear destroys every session and widget without notifying the
// server. Used on authentication failure, when the server-side shells
// are orphaned from the client's perspective and the server owns their
// cleanup.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if err := s.Widget.Close(); err != nil {
			r.log.Warn("widget close failed", zap.String("session", string(s.ID)), zap.Error(err))
		}
	}
	r.sessions = nil
	r.active = -1
	if r.metrics != nil {
		r.metrics.SessionsActive.Set(0)
	}
	r.log.Info("registry cleared")
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ActiveID returns the active session id, if any.
func (r *Registry) ActiveID() (id.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active < 0 {
		return "", false
	}
	return r.sessions[r.active].ID, true
}

// IDs returns the session ids in tab order.
func (r *Registry) IDs() []id.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]id.SessionID, len(r.sessions))
	for i, s := range r.sessions {
		ids[i] = s.ID
	}
	return ids
}

// Tabs returns a render-ready projection of the tab bar.
func (r *Registry) Tabs() []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()

	tabs := make([]Tab, len(r.sessions))
	for i, s := range r.sessions {
		tabs[i] = Tab{ID: s.ID, Title: s.Title, Active: i == r.active}
	}
	return tabs
}

// ActiveWidget returns the active session's widget, if any.
func (r *Registry) ActiveWidget() (term.Widget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active < 0 {
		return nil, false
	}
	return r.sessions[r.active].Widget, true
}

// Widgets returns every session's widget in tab order.
func (r *Registry) Widgets() []term.Widget {
	r.mu.Lock()
	defer r.mu.Unlock()

	widgets := make([]term.Widget, len(r.sessions))
	for i, s := range r.sessions {
		widgets[i] = s.Widget
	}
	return widgets
}

// Measure asks the target widget for its natural size.
func (r *Registry) Measure(sid id.SessionID) (term.Size, error) {
	widget := r.widget(sid)
	if widget == nil {
		return term.Size{}, ErrUnknownSession
	}
	return widget.Fit()
}

// SizeChanged records a freshly negotiated size and reports whether it
// differs from the cached one. Unknown ids report no change.
func (r *Registry) SizeChanged(sid id.SessionID, size term.Size) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(sid)
	if idx < 0 {
		return false
	}
	s := r.sessions[idx]
	if s.hasSize && s.lastKnownSize == size {
		return false
	}
	s.lastKnownSize = size
	s.hasSize = true
	return true
}

func (r *Registry) widget(sid id.SessionID) term.Widget {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(sid); idx >= 0 {
		return r.sessions[idx].Widget
	}
	return nil
}

// indexLocked must be called with the mutex held.
func (r *Registry) indexLocked(sid id.SessionID) int {
	for i, s := range r.sessions {
		if s.ID == sid {
			return i
		}
	}
	return -1
}

func (r *Registry) reconcile(sid id.SessionID) {
	r.mu.Lock()
	fn := r.reconciler
	r.mu.Unlock()
	if fn != nil {
		fn(sid)
	}
}
