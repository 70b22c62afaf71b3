package session

import (
	"github.com/rpimetrics/shellmux/internal/shared/id"
	"github.com/rpimetrics/shellmux/internal/term"
)

// Session pairs one terminal widget with one server-side shell. The
// registry owns the lifecycle; everything else refers to sessions by id.
type Session struct {
	ID     id.SessionID
	Title  string
	Widget term.Widget

	// lastKnownSize caches the most recent negotiated geometry so
	// redundant resize notifications can be suppressed.
	lastKnownSize term.Size
	hasSize       bool
}

// Tab is a read-only projection of a session for rendering.
type Tab struct {
	ID     id.SessionID
	Title  string
	Active bool
}
