package id

import (
	"sync"
	"testing"
)

func TestNextSessionIDMonotonic(t *testing.T) {
	a := NewAllocator()

	id1, n1 := a.NextSessionID()
	id2, n2 := a.NextSessionID()

	if n1 != 1 || n2 != 2 {
		t.Errorf("expected ordinals 1 and 2, got %d and %d", n1, n2)
	}
	if id1 != "sess-1" || id2 != "sess-2" {
		t.Errorf("unexpected ids: %s, %s", id1, id2)
	}
}

func TestSessionIDsNeverReused(t *testing.T) {
	a := NewAllocator()

	seen := make(map[SessionID]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id, _ := a.NextSessionID()
				mu.Lock()
				if seen[id] {
					t.Errorf("id %s allocated twice", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 800 {
		t.Errorf("expected 800 distinct ids, got %d", len(seen))
	}
	if a.Count() != 800 {
		t.Errorf("expected count 800, got %d", a.Count())
	}
}

func TestNewClientID(t *testing.T) {
	c1 := NewClientID()
	c2 := NewClientID()

	if c1 == "" || c1 == c2 {
		t.Errorf("client ids must be non-empty and distinct: %q, %q", c1, c2)
	}
}

func TestNewMessageID(t *testing.T) {
	ids := make(map[MessageID]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		if len(id) != 26 {
			t.Fatalf("expected 26-char ULID, got %q", id)
		}
		if ids[id] {
			t.Fatalf("duplicate message id %s", id)
		}
		ids[id] = true
	}
}
