// Package menu implements the tab context-menu controller. It holds a
// transient reference to the session the menu was opened against and
// translates menu actions into registry operations. The reference is
// not ownership: a target that disappears before an action lands makes
// the action a harmless no-op in the registry.
package menu

import (
	"sync"

	"github.com/rpimetrics/shellmux/internal/shared/id"
)

// Actions is the registry surface the menu drives.
type Actions interface {
	Rename(sid id.SessionID, title string)
	Duplicate(sid id.SessionID) (id.SessionID, error)
	Close(sid id.SessionID)
	CloseOthers(sid id.SessionID)
}

// Position is where the menu is anchored, in cell coordinates.
type Position struct {
	X int
	Y int
}

// Controller tracks menu visibility and the recorded target.
type Controller struct {
	actions Actions

	mu      sync.Mutex
	visible bool
	target  id.SessionID
	pos     Position
}

// NewController creates a hidden controller.
func NewController(actions Actions) *Controller {
	return &Controller{actions: actions}
}

// Open records the target and shows the menu at the given coordinates.
// Opening over an already-open menu retargets it.
func (c *Controller) Open(sid id.SessionID, x, y int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = true
	c.target = sid
	c.pos = Position{X: x, Y: y}
}

// Close hides the menu. The stale target sticks around harmlessly
// until the next Open overwrites it.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = false
}

// Visible reports whether the menu is shown, and where.
func (c *Controller) Visible() (bool, Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible, c.pos
}

// Target returns the session the menu is aimed at.
func (c *Controller) Target() id.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Rename renames the target and closes the menu.
func (c *Controller) Rename(title string) {
	sid := c.take()
	c.actions.Rename(sid, title)
}

// Duplicate duplicates the target and closes the menu.
func (c *Controller) Duplicate() {
	sid := c.take()
	// A vanished target reports unknown-session; nothing to surface.
	c.actions.Duplicate(sid)
}

// CloseSession closes the target session and the menu.
func (c *Controller) CloseSession() {
	sid := c.take()
	c.actions.Close(sid)
}

// CloseOthers closes every other session and the menu.
func (c *Controller) CloseOthers() {
	sid := c.take()
	c.actions.CloseOthers(sid)
}

// take reads the target and hides the menu; every action closes the
// menu regardless of outcome.
func (c *Controller) take() id.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = false
	return c.target
}
