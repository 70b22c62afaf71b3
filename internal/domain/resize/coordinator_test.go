package resize

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/shared/id"
	"github.com/rpimetrics/shellmux/internal/term"
	"github.com/rpimetrics/shellmux/internal/transport"
)

// fakeSessions serves queued measurements per session id. Timers fire
// on their own goroutines, so everything is mutex guarded.
type fakeSessions struct {
	mu       sync.Mutex
	sizes    map[id.SessionID][]term.Size
	cached   map[id.SessionID]term.Size
	measures int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sizes:  make(map[id.SessionID][]term.Size),
		cached: make(map[id.SessionID]term.Size),
	}
}

// queue appends measurement results; the last one repeats forever.
func (f *fakeSessions) queue(sid id.SessionID, sizes ...term.Size) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[sid] = append(f.sizes[sid], sizes...)
}

func (f *fakeSessions) remove(sid id.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sizes, sid)
	delete(f.cached, sid)
}

func (f *fakeSessions) Measure(sid id.SessionID) (term.Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	queue, ok := f.sizes[sid]
	if !ok || len(queue) == 0 {
		return term.Size{}, errors.New("unknown session")
	}
	f.measures++
	size := queue[0]
	if len(queue) > 1 {
		f.sizes[sid] = queue[1:]
	}
	return size, nil
}

func (f *fakeSessions) SizeChanged(sid id.SessionID, size term.Size) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.sizes[sid]; !ok {
		return false
	}
	if cached, ok := f.cached[sid]; ok && cached == size {
		return false
	}
	f.cached[sid] = size
	return true
}

func (f *fakeSessions) IDs() []id.SessionID {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []id.SessionID
	for sid := range f.sizes {
		ids = append(ids, sid)
	}
	return ids
}

type fakeEmitter struct {
	mu     sync.Mutex
	frames []transport.ResizeTerminal
}

func (e *fakeEmitter) Emit(event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, payload.(transport.ResizeTerminal))
	return nil
}

func (e *fakeEmitter) snapshot() []transport.ResizeTerminal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]transport.ResizeTerminal(nil), e.frames...)
}

func (e *fakeEmitter) waitForFrames(t *testing.T, n int) []transport.ResizeTerminal {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := e.snapshot(); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d resize frames, have %v", n, e.snapshot())
	return nil
}

func testConfig() Config {
	return Config{
		SettleDelay:     10 * time.Millisecond,
		Debounce:        20 * time.Millisecond,
		VisibilityDelay: 10 * time.Millisecond,
		RatePerSecond:   1000,
		Burst:           100,
	}
}

func newCoordinator(cfg Config, sessions Sessions, emitter Emitter) *Coordinator {
	return New(cfg, sessions, emitter, logging.NewNop())
}

func TestReconcileSecondMeasurementWins(t *testing.T) {
	sessions := newFakeSessions()
	emitter := &fakeEmitter{}
	c := newCoordinator(testConfig(), sessions, emitter)

	// First measurement sees the pre-layout size, the settled one the
	// real geometry.
	sessions.queue("sess-1", term.Size{Cols: 80, Rows: 24}, term.Size{Cols: 120, Rows: 40})

	c.Reconcile("sess-1")

	frames := emitter.waitForFrames(t, 1)
	if frames[0].SessionID != "sess-1" || frames[0].Cols != 120 || frames[0].Rows != 40 {
		t.Errorf("expected settled size on the wire, got %+v", frames[0])
	}
}

func TestReconcileClosedSessionIsNoop(t *testing.T) {
	sessions := newFakeSessions()
	emitter := &fakeEmitter{}
	c := newCoordinator(testConfig(), sessions, emitter)

	sessions.queue("sess-1", term.Size{Cols: 80, Rows: 24})
	c.Reconcile("sess-1")

	// The session disappears before the settle timer fires.
	sessions.remove("sess-1")

	time.Sleep(50 * time.Millisecond)
	if frames := emitter.snapshot(); len(frames) != 0 {
		t.Errorf("expected no frames for a closed session, got %v", frames)
	}
}

func TestReconcileMeasurementErrorSkips(t *testing.T) {
	sessions := newFakeSessions()
	emitter := &fakeEmitter{}
	c := newCoordinator(testConfig(), sessions, emitter)

	// No queued sizes at all: both measurements fail.
	c.Reconcile("sess-1")

	time.Sleep(50 * time.Millisecond)
	if frames := emitter.snapshot(); len(frames) != 0 {
		t.Errorf("expected measurement errors to be swallowed, got %v", frames)
	}
}

func TestReconcileUnchangedSizeSuppressed(t *testing.T) {
	sessions := newFakeSessions()
	emitter := &fakeEmitter{}
	c := newCoordinator(testConfig(), sessions, emitter)

	sessions.queue("sess-1", term.Size{Cols: 100, Rows: 30})

	c.Reconcile("sess-1")
	emitter.waitForFrames(t, 1)

	c.Reconcile("sess-1")
	time.Sleep(50 * time.Millisecond)

	if frames := emitter.snapshot(); len(frames) != 1 {
		t.Errorf("expected identical size to be suppressed, got %v", frames)
	}
}

func TestWindowResizeDebounces(t *testing.T) {
	sessions := newFakeSessions()
	emitter := &fakeEmitter{}
	c := newCoordinator(testConfig(), sessions, emitter)

	sessions.queue("sess-1", term.Size{Cols: 90, Rows: 25})
	sessions.queue("sess-2", term.Size{Cols: 90, Rows: 25})

	// A drag-resize burst collapses into a single pass.
	for i := 0; i < 5; i++ {
		c.OnWindowResize()
		time.Sleep(2 * time.Millisecond)
	}

	frames := emitter.waitForFrames(t, 2)
	time.Sleep(50 * time.Millisecond)
	frames = emitter.snapshot()
	if len(frames) != 2 {
		t.Errorf("expected one frame per session, got %v", frames)
	}
}

func TestVisibilityRestoredSchedulesPass(t *testing.T) {
	sessions := newFakeSessions()
	emitter := &fakeEmitter{}
	c := newCoordinator(testConfig(), sessions, emitter)

	sessions.queue("sess-1", term.Size{Cols: 80, Rows: 24})

	c.OnVisibilityRestored()

	frames := emitter.waitForFrames(t, 1)
	if frames[0].SessionID != "sess-1" {
		t.Errorf("unexpected frame: %+v", frames[0])
	}
}

func TestRateLimiterCapsStorm(t *testing.T) {
	sessions := newFakeSessions()
	emitter := &fakeEmitter{}
	cfg := testConfig()
	cfg.RatePerSecond = 0.001
	cfg.Burst = 1
	c := newCoordinator(cfg, sessions, emitter)

	// Every reconciliation sees a different size, so only the limiter
	// holds frames back.
	for i := 0; i < 4; i++ {
		sessions.queue("sess-1", term.Size{Cols: 80 + i, Rows: 24})
		c.Reconcile("sess-1")
		time.Sleep(30 * time.Millisecond)
	}

	if frames := emitter.snapshot(); len(frames) != 1 {
		t.Errorf("expected a single frame through the limiter, got %v", frames)
	}
}

func TestStopCancelsPendingDebounce(t *testing.T) {
	sessions := newFakeSessions()
	emitter := &fakeEmitter{}
	c := newCoordinator(testConfig(), sessions, emitter)

	sessions.queue("sess-1", term.Size{Cols: 80, Rows: 24})

	c.OnWindowResize()
	c.Stop()

	time.Sleep(60 * time.Millisecond)
	if frames := emitter.snapshot(); len(frames) != 0 {
		t.Errorf("expected no frames after Stop, got %v", frames)
	}
}
