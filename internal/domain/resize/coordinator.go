// Package resize reconciles widget geometry with the server. A widget
// freshly inserted or revealed can report a wrong first size before its
// container settles, so reconciliation measures twice: prime, wait a
// settle delay, measure again, then notify the server with the second
// result. Timers re-check the registry by id when they fire, so a
// session closed in between resolves as a no-op rather than needing
// explicit cancellation.
package resize

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/infrastructure/monitoring"
	"github.com/rpimetrics/shellmux/internal/shared/id"
	"github.com/rpimetrics/shellmux/internal/term"
	"github.com/rpimetrics/shellmux/internal/transport"
)

// Sessions is the registry slice the coordinator works against.
type Sessions interface {
	Measure(sid id.SessionID) (term.Size, error)
	SizeChanged(sid id.SessionID, size term.Size) bool
	IDs() []id.SessionID
}

// Emitter sends the negotiated size to the server.
type Emitter interface {
	Emit(event string, payload any) error
}

// Config tunes the coordinator's timing.
type Config struct {
	// SettleDelay separates the two measurements of one reconciliation.
	SettleDelay time.Duration

	// Debounce coalesces window-resize bursts into one full pass.
	Debounce time.Duration

	// VisibilityDelay defers the full pass after the client becomes
	// visible again.
	VisibilityDelay time.Duration

	// RatePerSecond and Burst cap outbound resize_terminal frames
	// during drag storms.
	RatePerSecond float64
	Burst         int
}

// Coordinator schedules and emits size reconciliations.
type Coordinator struct {
	cfg      Config
	sessions Sessions
	emitter  Emitter
	log      *logging.Logger
	metrics  *monitoring.Metrics
	limiter  *rate.Limiter

	mu       sync.Mutex
	debounce *time.Timer
}

// New creates a coordinator. Zero config fields get the defaults the
// original timing was tuned to.
func New(cfg Config, sessions Sessions, emitter Emitter, log *logging.Logger) *Coordinator {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 100 * time.Millisecond
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	if cfg.VisibilityDelay <= 0 {
		cfg.VisibilityDelay = 100 * time.Millisecond
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	return &Coordinator{
		cfg:      cfg,
		sessions: sessions,
		emitter:  emitter,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// WithMetrics adds metrics tracking to the coordinator.
func (c *Coordinator) WithMetrics(m *monitoring.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// Reconcile runs the two-step measurement for one session and emits
// the result. Safe to call for ids that disappear before the second
// step fires.
func (c *Coordinator) Reconcile(sid id.SessionID) {
	// Prime the layout. The result is deliberately discarded; only the
	// post-settle measurement is trusted.
	if _, err := c.sessions.Measure(sid); err != nil {
		c.log.Debug("priming measure skipped", zap.String("session", string(sid)), zap.Error(err))
	}

	time.AfterFunc(c.cfg.SettleDelay, func() { c.finish(sid) })
}

func (c *Coordinator) finish(sid id.SessionID) {
	size, err := c.sessions.Measure(sid)
	if err != nil {
		// Closed or still not laid out; skip, never propagate.
		c.log.Debug("resize skipped", zap.String("session", string(sid)), zap.Error(err))
		return
	}

	if !c.sessions.SizeChanged(sid, size) {
		c.suppress(sid, "unchanged")
		return
	}
	if !c.limiter.Allow() {
		// Mid-storm frame dropped; the debounced full pass that ends
		// the storm sends the final geometry.
		c.suppress(sid, "rate limited")
		return
	}

	if err := c.emitter.Emit(transport.EventResizeTerminal, transport.ResizeTerminal{
		SessionID: string(sid),
		Cols:      size.Cols,
		Rows:      size.Rows,
	}); err != nil {
		c.log.Debug("resize_terminal not sent", zap.String("session", string(sid)), zap.Error(err))
		return
	}
	if c.metrics != nil {
		c.metrics.ResizeEmitted.Inc()
	}
}

func (c *Coordinator) suppress(sid id.SessionID, reason string) {
	c.log.Debug("resize suppressed",
		zap.String("session", string(sid)),
		zap.String("reason", reason))
	if c.metrics != nil {
		c.metrics.ResizeSuppressed.Inc()
	}
}

// OnWindowResize debounces bursts into a single pass over all sessions.
func (c *Coordinator) OnWindowResize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.debounce != nil {
		c.debounce.Reset(c.cfg.Debounce)
		return
	}
	c.debounce = time.AfterFunc(c.cfg.Debounce, func() {
		c.mu.Lock()
		c.debounce = nil
		c.mu.Unlock()
		c.reconcileAll()
	})
}

// OnVisibilityRestored schedules a delayed full pass; sizes measured
// while hidden are unreliable.
func (c *Coordinator) OnVisibilityRestored() {
	time.AfterFunc(c.cfg.VisibilityDelay, c.reconcileAll)
}

// Stop cancels a pending debounce pass.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
}

func (c *Coordinator) reconcileAll() {
	for _, sid := range c.sessions.IDs() {
		c.Reconcile(sid)
	}
}
