// Package term defines the terminal-emulation widget capability.
//
// The widget itself (rendering bytes to a grid, turning keystrokes
// into byte sequences, computing a fit-to-container size) is an
// external collaborator; this package specifies only the surface the
// session and resize logic depend on. The TUI provides the real
// implementation, tests provide fakes.
package term

import "errors"

// ErrNotLaidOut is returned by Fit before the widget has been given a
// container size. Callers skip the resize rather than propagate it.
var ErrNotLaidOut = errors.New("widget has no layout yet")

// Size is a negotiated terminal geometry.
type Size struct {
	Cols int
	Rows int
}

// Widget is one terminal-emulation instance, exclusively owned by a
// single session. It is created exactly once and closed exactly once.
type Widget interface {
	// Write renders raw output bytes.
	Write(p []byte) (int, error)

	// Writeln renders a full line followed by a line break. Used for
	// connection notices injected between shell output.
	Writeln(line string)

	// OnData registers the handler invoked with the byte sequences
	// produced by user keystrokes. At most one handler is active.
	OnData(fn func(data []byte))

	// Fit recomputes the widget's natural size from its container and
	// returns it. May return ErrNotLaidOut while the container has no
	// final geometry.
	Fit() (Size, error)

	// Focus directs keyboard input at this widget.
	Focus()

	// Blur removes keyboard focus. Called on the previously active
	// widget when another session takes over.
	Blur()

	// Close releases the widget's resources. Further Write calls are
	// undefined; callers must drop their reference.
	Close() error
}

// Factory creates a widget for a newly registered session.
type Factory func() (Widget, error)
