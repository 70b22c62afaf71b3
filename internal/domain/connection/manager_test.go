package connection

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/shared/id"
	"github.com/rpimetrics/shellmux/internal/transport"
)

type fakeTransport struct {
	handlers map[string]transport.Handler
	emitted  []string
	payloads []any
	connects int
	closes   int
	clientID id.ClientID
	emitErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]transport.Handler),
		clientID: id.NewClientID(),
	}
}

func (f *fakeTransport) Connect() error { f.connects++; return nil }
func (f *fakeTransport) Close() error   { f.closes++; return nil }

func (f *fakeTransport) Emit(event string, payload any) error {
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeTransport) On(event string, h transport.Handler) { f.handlers[event] = h }
func (f *fakeTransport) ClientID() id.ClientID                { return f.clientID }

// fire simulates an inbound transport event.
func (f *fakeTransport) fire(t *testing.T, event string) {
	t.Helper()
	h, ok := f.handlers[event]
	if !ok {
		t.Fatalf("no handler bound for %q", event)
	}
	h(nil)
}

func (f *fakeTransport) countEmitted(event string) int {
	n := 0
	for _, e := range f.emitted {
		if e == event {
			n++
		}
	}
	return n
}

type fakeSessions struct {
	count      int
	created    int
	cleared    int
	broadcasts []string
}

func (f *fakeSessions) Count() int { return f.count }

func (f *fakeSessions) Create(title string) (id.SessionID, error) {
	f.created++
	f.count++
	return "sess-1", nil
}

func (f *fakeSessions) Clear()                         { f.cleared++; f.count = 0 }
func (f *fakeSessions) Broadcast(line string)          { f.broadcasts = append(f.broadcasts, line) }
func (f *fakeSessions) HandleOutput(_ json.RawMessage) {}
func (f *fakeSessions) HandleError(_ json.RawMessage)  {}

type fakeStore struct {
	saved []string
}

func (f *fakeStore) Save(credential string) error {
	f.saved = append(f.saved, credential)
	return nil
}

type fixture struct {
	m      *Manager
	tr     *fakeTransport
	reg    *fakeSessions
	store  *fakeStore
	states []State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fx := &fixture{
		tr:    newFakeTransport(),
		reg:   &fakeSessions{},
		store: &fakeStore{},
	}
	fx.m = NewManager(fx.tr, fx.reg, fx.store, logging.NewNop())
	fx.m.SetOnStateChange(func(s State) { fx.states = append(fx.states, s) })
	fx.m.Bind()
	return fx
}

func TestConnectAuthenticatesOnConnectEvent(t *testing.T) {
	fx := newFixture(t)

	if err := fx.m.Connect("rpi-key"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if fx.tr.connects != 1 {
		t.Fatalf("expected one transport connect, got %d", fx.tr.connects)
	}
	if fx.m.State() != StateConnecting {
		t.Errorf("expected connecting, got %s", fx.m.State())
	}

	fx.tr.fire(t, transport.EventConnect)

	if fx.m.State() != StateAuthenticating {
		t.Errorf("expected authenticating, got %s", fx.m.State())
	}
	if fx.tr.countEmitted(transport.EventAuthenticate) != 1 {
		t.Fatal("expected one authenticate frame")
	}
	auth := fx.tr.payloads[0].(transport.Auth)
	if auth.Credential != "rpi-key" || auth.ClientID != fx.tr.clientID.String() {
		t.Errorf("unexpected auth payload: %+v", auth)
	}
}

func TestAuthSuccessCreatesInitialSessionOnce(t *testing.T) {
	fx := newFixture(t)
	fx.m.Connect("k")
	fx.tr.fire(t, transport.EventConnect)

	fx.tr.fire(t, transport.EventAuthSuccess)

	if fx.m.State() != StateAuthenticated {
		t.Errorf("expected authenticated, got %s", fx.m.State())
	}
	if fx.reg.created != 1 {
		t.Errorf("expected one initial session, got %d", fx.reg.created)
	}

	// A later re-authentication leaves existing sessions untouched.
	fx.tr.fire(t, transport.EventAuthSuccess)
	if fx.reg.created != 1 {
		t.Errorf("re-auth must not create sessions, got %d", fx.reg.created)
	}
}

func TestAuthFailureClearsAndPrompts(t *testing.T) {
	fx := newFixture(t)
	prompted := 0
	fx.m.SetOnPrompt(func() { prompted++ })

	fx.m.Connect("bad-key")
	fx.tr.fire(t, transport.EventConnect)
	fx.reg.count = 3

	fx.tr.fire(t, transport.EventAuthFailed)

	if fx.reg.cleared != 1 || fx.reg.count != 0 {
		t.Error("expected all sessions discarded")
	}
	if fx.m.State() != StateUnauthenticated {
		t.Errorf("expected unauthenticated, got %s", fx.m.State())
	}
	if prompted != 1 {
		t.Errorf("expected one credential prompt, got %d", prompted)
	}
	if fx.tr.countEmitted(transport.EventCloseShell) != 0 {
		t.Error("auth failure must not notify the server about sessions")
	}
}

func TestDisconnectPreservesSessions(t *testing.T) {
	fx := newFixture(t)
	fx.m.Connect("k")
	fx.tr.fire(t, transport.EventConnect)
	fx.tr.fire(t, transport.EventAuthSuccess)
	fx.reg.count = 2

	fx.tr.fire(t, transport.EventDisconnect)

	if fx.m.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", fx.m.State())
	}
	if fx.reg.cleared != 0 || fx.reg.count != 2 {
		t.Error("transient disconnect must not touch sessions")
	}
	if len(fx.reg.broadcasts) != 1 || !strings.Contains(fx.reg.broadcasts[0], "Connection lost") {
		t.Errorf("expected disconnect notice, got %v", fx.reg.broadcasts)
	}

	fx.tr.fire(t, transport.EventReconnecting)
	if fx.m.State() != StateReconnecting {
		t.Errorf("expected reconnecting, got %s", fx.m.State())
	}
}

func TestReconnectReauthenticates(t *testing.T) {
	fx := newFixture(t)
	fx.m.Connect("k")
	fx.tr.fire(t, transport.EventConnect)
	fx.tr.fire(t, transport.EventAuthSuccess)
	fx.tr.fire(t, transport.EventDisconnect)
	fx.tr.fire(t, transport.EventReconnecting)

	fx.tr.fire(t, transport.EventReconnect)

	if fx.m.State() != StateAuthenticating {
		t.Errorf("expected authenticating after reconnect, got %s", fx.m.State())
	}
	if fx.tr.countEmitted(transport.EventAuthenticate) != 2 {
		t.Errorf("expected re-sent credential, got %d authenticate frames",
			fx.tr.countEmitted(transport.EventAuthenticate))
	}

	fx.tr.fire(t, transport.EventAuthSuccess)
	if fx.m.State() != StateAuthenticated {
		t.Errorf("expected authenticated, got %s", fx.m.State())
	}
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	fx := newFixture(t)
	fx.m.Connect("k")
	fx.tr.fire(t, transport.EventConnect)
	fx.tr.fire(t, transport.EventAuthSuccess)
	fx.reg.count = 2

	fx.tr.fire(t, transport.EventDisconnect)
	fx.tr.fire(t, transport.EventReconnectFailed)

	if !fx.m.State().Terminal() {
		t.Errorf("expected terminal state, got %s", fx.m.State())
	}
	if fx.reg.count != 2 {
		t.Error("exhaustion must not remove sessions")
	}
	// Both notices, in order.
	if len(fx.reg.broadcasts) != 2 ||
		!strings.Contains(fx.reg.broadcasts[0], "Connection lost") ||
		!strings.Contains(fx.reg.broadcasts[1], "exhausted") {
		t.Errorf("unexpected notices: %v", fx.reg.broadcasts)
	}
}

func TestSetCredentialConnectsWhenIdle(t *testing.T) {
	fx := newFixture(t)

	if err := fx.m.SetCredential("fresh-key"); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}
	if len(fx.store.saved) != 1 || fx.store.saved[0] != "fresh-key" {
		t.Errorf("expected credential persisted, got %v", fx.store.saved)
	}
	if fx.tr.connects != 1 {
		t.Errorf("expected transport connect, got %d", fx.tr.connects)
	}
}

func TestSetCredentialReauthenticatesOpenConnection(t *testing.T) {
	fx := newFixture(t)
	fx.m.Connect("old-key")
	fx.tr.fire(t, transport.EventConnect)

	if err := fx.m.SetCredential("new-key"); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}

	if fx.tr.connects != 1 {
		t.Errorf("expected no second connect, got %d", fx.tr.connects)
	}
	last := fx.tr.payloads[len(fx.tr.payloads)-1].(transport.Auth)
	if last.Credential != "new-key" {
		t.Errorf("expected re-auth with new credential, got %+v", last)
	}
}

func TestStateObserver(t *testing.T) {
	fx := newFixture(t)
	fx.m.Connect("k")
	fx.tr.fire(t, transport.EventConnect)
	fx.tr.fire(t, transport.EventAuthSuccess)

	want := []State{StateConnecting, StateAuthenticating, StateAuthenticated}
	if len(fx.states) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), fx.states)
	}
	for i := range want {
		if fx.states[i] != want[i] {
			t.Errorf("transition %d: want %s, got %s", i, want[i], fx.states[i])
		}
	}
}
