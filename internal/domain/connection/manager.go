// Package connection owns the single transport connection: connect,
// authenticate, disconnect, reconnect, and reconnect exhaustion. The
// manager reacts to session state but never mutates it beyond the two
// sanctioned points, create-if-empty on auth success and clear-all on
// auth failure.
package connection

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/infrastructure/monitoring"
	"github.com/rpimetrics/shellmux/internal/shared/id"
	"github.com/rpimetrics/shellmux/internal/transport"
)

// Notices injected into every open widget on lifecycle transitions.
const (
	noticeDisconnected = "\r\n\x1b[33mConnection lost. Reconnecting...\x1b[0m"
	noticeReconnected  = "\r\n\x1b[32mReconnected. Re-authenticating...\x1b[0m"
	noticeGaveUp       = "\r\n\x1b[31mReconnection attempts exhausted. Restart the client to continue.\x1b[0m"
)

// Transport is the event channel the manager drives.
type Transport interface {
	Connect() error
	Close() error
	Emit(event string, payload any) error
	On(event string, h transport.Handler)
	ClientID() id.ClientID
}

// Sessions is the slice of the registry the manager reacts to.
type Sessions interface {
	Count() int
	Create(title string) (id.SessionID, error)
	Clear()
	Broadcast(line string)
	HandleOutput(data json.RawMessage)
	HandleError(data json.RawMessage)
}

// CredentialStore persists the credential across runs.
type CredentialStore interface {
	Save(credential string) error
}

// Manager is the connection lifecycle state machine.
type Manager struct {
	tr       Transport
	sessions Sessions
	store    CredentialStore
	log      *logging.Logger
	metrics  *monitoring.Metrics

	mu         sync.Mutex
	state      State
	credential string
	started    bool

	onPrompt func()
	onState  func(State)
}

// NewManager wires the manager to its collaborators. Bind must be
// called before Connect.
func NewManager(tr Transport, sessions Sessions, store CredentialStore, log *logging.Logger) *Manager {
	return &Manager{
		tr:       tr,
		sessions: sessions,
		store:    store,
		log:      log,
		state:    StateUnauthenticated,
	}
}

// WithMetrics adds metrics tracking to the manager.
func (m *Manager) WithMetrics(mx *monitoring.Metrics) *Manager {
	m.metrics = mx
	return m
}

// SetOnPrompt installs the callback invoked when a fresh credential is
// needed, on startup without one or after an authentication failure.
func (m *Manager) SetOnPrompt(fn func()) { m.onPrompt = fn }

// SetOnStateChange installs the state observer for the status surface.
func (m *Manager) SetOnStateChange(fn func(State)) { m.onState = fn }

// Prompt asks the UI for a credential. Used at startup when none is
// stored; the auth-failure path invokes the same callback.
func (m *Manager) Prompt() {
	if m.onPrompt != nil {
		m.onPrompt()
	}
}

// Bind registers the manager's transport handlers. Session-targeted
// events go straight to the registry, whose id lookup drops stale ones.
func (m *Manager) Bind() {
	m.tr.On(transport.EventConnect, func(json.RawMessage) { m.handleConnect() })
	m.tr.On(transport.EventDisconnect, func(json.RawMessage) { m.handleDisconnect() })
	m.tr.On(transport.EventReconnecting, func(json.RawMessage) { m.setState(StateReconnecting) })
	m.tr.On(transport.EventReconnect, func(json.RawMessage) { m.handleReconnect() })
	m.tr.On(transport.EventReconnectFailed, func(json.RawMessage) { m.handleReconnectFailed() })
	m.tr.On(transport.EventAuthSuccess, func(json.RawMessage) { m.handleAuthSuccess() })
	m.tr.On(transport.EventAuthFailed, func(json.RawMessage) { m.handleAuthFailed() })
	m.tr.On(transport.EventShellOutput, m.sessions.HandleOutput)
	m.tr.On(transport.EventShellError, m.sessions.HandleError)
}

// State returns the current lifecycle position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the transport with the given credential. Authentication
// follows on the connect event; success is not assumed.
func (m *Manager) Connect(credential string) error {
	m.mu.Lock()
	m.credential = credential
	alreadyStarted := m.started
	m.started = true
	m.mu.Unlock()

	if alreadyStarted {
		return nil
	}

	m.setState(StateConnecting)
	if err := m.tr.Connect(); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	return nil
}

// SetCredential persists a new credential, then re-authenticates the
// open connection or connects if none exists yet.
func (m *Manager) SetCredential(credential string) error {
	if m.store != nil {
		if err := m.store.Save(credential); err != nil {
			m.log.Warn("credential not persisted", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.credential = credential
	started := m.started
	m.mu.Unlock()

	if !started {
		return m.Connect(credential)
	}

	m.setState(StateAuthenticating)
	m.authenticate()
	return nil
}

// Close releases the transport. Used on logout; no reconnection
// follows.
func (m *Manager) Close() error {
	err := m.tr.Close()
	m.setState(StateUnauthenticated)
	return err
}

func (m *Manager) handleConnect() {
	m.log.Info("transport connected, authenticating")
	m.setState(StateAuthenticating)
	m.authenticate()
}

func (m *Manager) handleDisconnect() {
	// Sessions and widgets survive transient disconnects untouched.
	m.setState(StateDisconnected)
	m.sessions.Broadcast(noticeDisconnected)
}

func (m *Manager) handleReconnect() {
	m.log.Info("transport reconnected, re-authenticating")
	m.sessions.Broadcast(noticeReconnected)
	m.setState(StateAuthenticating)
	// The server keys authentication to the live connection, so every
	// reconnect re-sends the credential.
	m.authenticate()
}

func (m *Manager) handleReconnectFailed() {
	m.log.Error("reconnection attempts exhausted")
	m.setState(StateReconnectFailed)
	m.sessions.Broadcast(noticeGaveUp)
}

func (m *Manager) handleAuthSuccess() {
	m.setState(StateAuthenticated)

	// First authentication of a fresh client starts with one tab.
	// After a re-authentication the existing sessions stand.
	if m.sessions.Count() == 0 {
		if _, err := m.sessions.Create(""); err != nil {
			m.log.Error("initial session failed", zap.Error(err))
		}
	}
}

func (m *Manager) handleAuthFailed() {
	m.log.Warn("authentication rejected")
	if m.metrics != nil {
		m.metrics.AuthFailures.Inc()
	}

	// The server-side shells are orphaned from our perspective; the
	// server owns their cleanup, so no close_shell is sent.
	m.sessions.Clear()
	m.setState(StateUnauthenticated)

	if m.onPrompt != nil {
		m.onPrompt()
	}
}

func (m *Manager) authenticate() {
	m.mu.Lock()
	credential := m.credential
	m.mu.Unlock()

	err := m.tr.Emit(transport.EventAuthenticate, transport.Auth{
		Credential: credential,
		ClientID:   m.tr.ClientID().String(),
	})
	if err != nil {
		// The connection raced away; the reconnect path retries.
		m.log.Warn("authenticate not sent", zap.Error(err))
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	fn := m.onState
	m.mu.Unlock()

	m.log.Info("connection state",
		zap.String("from", prev.String()),
		zap.String("to", s.String()))
	if fn != nil {
		fn(s)
	}
}
