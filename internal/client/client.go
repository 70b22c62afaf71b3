// Package client assembles the pieces into one owned state object:
// transport, session registry, connection manager, resize coordinator,
// menu controller, credential store, and the optional debug server.
// It is constructed at startup and torn down on logout, so nothing
// lives in package-level state.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rpimetrics/shellmux/internal/api/debug"
	"github.com/rpimetrics/shellmux/internal/credential"
	"github.com/rpimetrics/shellmux/internal/domain/connection"
	"github.com/rpimetrics/shellmux/internal/domain/menu"
	"github.com/rpimetrics/shellmux/internal/domain/resize"
	"github.com/rpimetrics/shellmux/internal/domain/session"
	"github.com/rpimetrics/shellmux/internal/infrastructure/config"
	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/infrastructure/monitoring"
	"github.com/rpimetrics/shellmux/internal/probe"
	"github.com/rpimetrics/shellmux/internal/term"
	"github.com/rpimetrics/shellmux/internal/transport"
)

// Client is the top-level state object for one run.
type Client struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *monitoring.Metrics

	transport *transport.Client
	registry  *session.Registry
	manager   *connection.Manager
	resizer   *resize.Coordinator
	menu      *menu.Controller
	store     *credential.Store
	prober    *probe.Prober
	debug     *debug.Server

	cancel context.CancelFunc
}

// New wires a client. The widget factory comes from the UI layer.
func New(cfg *config.Config, factory term.Factory, log *logging.Logger) (*Client, error) {
	metrics := monitoring.NewMetrics()

	tr, err := transport.New(transport.Config{
		URL:              cfg.Server.URL,
		InitialDelay:     cfg.Reconnect.InitialDelay,
		MaxDelay:         cfg.Reconnect.MaxDelay,
		MaxAttempts:      cfg.Reconnect.MaxAttempts,
		HandshakeTimeout: cfg.Reconnect.HandshakeTimeout,
	}, log.Named("transport"))
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	tr.WithMetrics(metrics)

	storePath := cfg.Credential.Path
	if storePath == "" {
		storePath, err = credential.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve credential path: %w", err)
		}
	}
	store := credential.NewStore(storePath)

	registry := session.NewRegistry(tr, factory, log.Named("session")).WithMetrics(metrics)
	manager := connection.NewManager(tr, registry, store, log.Named("connection")).WithMetrics(metrics)
	resizer := resize.New(resize.Config{
		SettleDelay:     cfg.Resize.SettleDelay,
		Debounce:        cfg.Resize.Debounce,
		VisibilityDelay: cfg.Resize.VisibilityDelay,
		RatePerSecond:   float64(cfg.Resize.RatePerSecond),
		Burst:           cfg.Resize.Burst,
	}, registry, tr, log.Named("resize")).WithMetrics(metrics)
	registry.SetReconciler(resizer.Reconcile)
	manager.Bind()

	c := &Client{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		transport: tr,
		registry:  registry,
		manager:   manager,
		resizer:   resizer,
		menu:      menu.NewController(registry),
		store:     store,
	}

	if cfg.Server.Probe {
		probeURL, err := probe.HTTPURL(cfg.Server.URL)
		if err != nil {
			return nil, fmt.Errorf("derive probe url: %w", err)
		}
		c.prober = probe.New(probe.Config{
			URL:     probeURL,
			Timeout: cfg.Server.ProbeTimeout,
		}, log.Named("probe"))
	}
	if cfg.Debug.Enabled {
		c.debug = debug.New(c, metrics, log.Named("debug"))
	}

	return c, nil
}

// Start probes the server, brings up the debug endpoint, and connects
// with the stored credential. Without one it invokes the credential
// prompt and waits for SetCredential.
func (c *Client) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if c.prober != nil {
		if err := c.prober.Check(ctx); err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}
		c.log.Info("server reachable", zap.String("url", c.cfg.Server.URL))
	}

	if c.debug != nil {
		if err := c.debug.Start(c.cfg.Debug.Addr); err != nil {
			return fmt.Errorf("start debug server: %w", err)
		}
	}

	go c.trackUptime(ctx)

	cred, err := c.store.Load()
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			c.log.Warn("stored credential unreadable", zap.Error(err))
		}
		c.manager.Prompt()
		return nil
	}
	return c.manager.Connect(cred)
}

func (c *Client) trackUptime(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.metrics.UpdateUptime()
		}
	}
}

// SetCredential persists the token and (re)authenticates.
func (c *Client) SetCredential(cred string) error {
	return c.manager.SetCredential(cred)
}

// Logout clears the persisted credential and tears everything down.
// The next run starts from the credential prompt.
func (c *Client) Logout() error {
	if err := c.store.Clear(); err != nil {
		c.log.Warn("credential not cleared", zap.Error(err))
	}
	return c.Close()
}

// Close tears the client down: sessions destroyed, transport released,
// timers stopped. The credential survives for the next run.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.resizer.Stop()
	c.registry.Clear()

	var errs []error
	if err := c.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.debug.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConnectionState implements the debug status surface.
func (c *Client) ConnectionState() string { return c.manager.State().String() }

// SessionCount implements the debug status surface.
func (c *Client) SessionCount() int { return c.registry.Count() }

// Sessions exposes the registry to the UI layer.
func (c *Client) Sessions() *session.Registry { return c.registry }

// Menu exposes the context-menu controller to the UI layer.
func (c *Client) Menu() *menu.Controller { return c.menu }

// Resizer exposes the resize coordinator to the UI layer.
func (c *Client) Resizer() *resize.Coordinator { return c.resizer }

// State returns the connection lifecycle position.
func (c *Client) State() connection.State { return c.manager.State() }

// OnCredentialPrompt installs the UI callback for credential entry.
func (c *Client) OnCredentialPrompt(fn func()) { c.manager.SetOnPrompt(fn) }

// OnStateChange installs the UI callback for connection transitions.
func (c *Client) OnStateChange(fn func(connection.State)) { c.manager.SetOnStateChange(fn) }
