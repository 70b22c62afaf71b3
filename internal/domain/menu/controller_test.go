package menu

import (
	"testing"

	"github.com/rpimetrics/shellmux/internal/shared/id"
)

type fakeActions struct {
	renames    []string
	duplicates []id.SessionID
	closes     []id.SessionID
	others     []id.SessionID
}

func (f *fakeActions) Rename(sid id.SessionID, title string) {
	f.renames = append(f.renames, string(sid)+":"+title)
}

func (f *fakeActions) Duplicate(sid id.SessionID) (id.SessionID, error) {
	f.duplicates = append(f.duplicates, sid)
	return "sess-99", nil
}

func (f *fakeActions) Close(sid id.SessionID)       { f.closes = append(f.closes, sid) }
func (f *fakeActions) CloseOthers(sid id.SessionID) { f.others = append(f.others, sid) }

func TestOpenClose(t *testing.T) {
	c := NewController(&fakeActions{})

	if visible, _ := c.Visible(); visible {
		t.Error("menu must start hidden")
	}

	c.Open("sess-2", 10, 4)
	visible, pos := c.Visible()
	if !visible || pos != (Position{X: 10, Y: 4}) {
		t.Errorf("expected visible at (10,4), got %v %+v", visible, pos)
	}
	if c.Target() != "sess-2" {
		t.Errorf("expected target sess-2, got %s", c.Target())
	}

	c.Close()
	if visible, _ := c.Visible(); visible {
		t.Error("expected hidden after Close")
	}
	// The stale target is retained until the next Open.
	if c.Target() != "sess-2" {
		t.Error("target reference should survive Close")
	}
}

func TestOpenRetargets(t *testing.T) {
	c := NewController(&fakeActions{})

	c.Open("sess-1", 0, 0)
	c.Open("sess-2", 5, 5)

	if c.Target() != "sess-2" {
		t.Errorf("expected retarget to sess-2, got %s", c.Target())
	}
}

func TestActionsDelegateAndCloseMenu(t *testing.T) {
	actions := &fakeActions{}
	c := NewController(actions)

	checkHidden := func(action string) {
		t.Helper()
		if visible, _ := c.Visible(); visible {
			t.Errorf("%s must close the menu", action)
		}
	}

	c.Open("sess-1", 0, 0)
	c.Rename("build box")
	checkHidden("rename")

	c.Open("sess-1", 0, 0)
	c.Duplicate()
	checkHidden("duplicate")

	c.Open("sess-1", 0, 0)
	c.CloseSession()
	checkHidden("close")

	c.Open("sess-1", 0, 0)
	c.CloseOthers()
	checkHidden("close others")

	if len(actions.renames) != 1 || actions.renames[0] != "sess-1:build box" {
		t.Errorf("unexpected renames: %v", actions.renames)
	}
	if len(actions.duplicates) != 1 || len(actions.closes) != 1 || len(actions.others) != 1 {
		t.Errorf("expected one delegation per action: %+v", actions)
	}
}

func TestStaleTargetStillDelegates(t *testing.T) {
	actions := &fakeActions{}
	c := NewController(actions)

	// The registry treats unknown ids as no-ops, so the controller
	// forwards without checking liveness.
	c.Open("sess-gone", 0, 0)
	c.CloseSession()

	if len(actions.closes) != 1 || actions.closes[0] != "sess-gone" {
		t.Errorf("expected delegation with stale target, got %v", actions.closes)
	}
}
