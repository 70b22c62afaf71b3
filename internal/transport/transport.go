// Package transport implements the real-time event channel to the
// shell server: JSON frames over a single websocket, an emit/on
// surface, and automatic reconnection with capped backoff. The client
// keeps one logical identity across reconnects; lifecycle changes are
// surfaced as reserved events so consumers handle them exactly like
// server-sent ones.
package transport

import (
	"encoding/json"

	"github.com/rpimetrics/shellmux/internal/shared/id"
)

// Events sent by the client.
const (
	EventAuthenticate   = "authenticate"
	EventCreateShell    = "create_shell"
	EventShellInput     = "shell_input"
	EventResizeTerminal = "resize_terminal"
	EventCloseShell     = "close_shell"
)

// Events received from the server.
const (
	EventAuthSuccess = "authentication_success"
	EventAuthFailed  = "authentication_failed"
	EventShellOutput = "shell_output"
	EventShellError  = "shell_error"
)

// Lifecycle events synthesized locally by the transport. They carry no
// payload.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnecting    = "reconnecting"
	EventReconnect       = "reconnect"
	EventReconnectFailed = "reconnect_failed"
)

// Message is the wire frame: an event type, an optional payload, and a
// correlation id on outbound frames.
type Message struct {
	Type string          `json:"type"`
	ID   id.MessageID    `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Handler consumes the raw payload of one event. Handlers for a given
// connection are invoked in receive order from a single goroutine.
type Handler func(data json.RawMessage)

// Auth is the authenticate payload.
type Auth struct {
	Credential string `json:"credential"`
	ClientID   string `json:"clientId"`
}

// CreateShell asks the server to allocate a shell for a session.
type CreateShell struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// ShellInput carries user keystrokes to a session's shell.
type ShellInput struct {
	SessionID string `json:"sessionId"`
	Input     string `json:"input"`
}

// ResizeTerminal reports a negotiated size for a session.
type ResizeTerminal struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// CloseShell requests server-side teardown of a session's shell.
type CloseShell struct {
	SessionID string `json:"sessionId"`
}

// ShellOutput is output produced by a session's shell.
type ShellOutput struct {
	SessionID string `json:"sessionId"`
	Output    string `json:"output"`
}

// ShellError is a server-reported error tied to one session.
type ShellError struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}
