package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/infrastructure/monitoring"
	"github.com/rpimetrics/shellmux/internal/shared/id"
)

// ErrNotConnected is returned by Emit while the transport has no live
// connection. Callers decide whether that is worth surfacing; input
// forwarding, for example, just drops.
var ErrNotConnected = errors.New("transport is not connected")

// Config tunes dialing and reconnection.
type Config struct {
	URL string

	// InitialDelay is the first retry delay; subsequent delays grow
	// up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxAttempts bounds consecutive failed dials. Zero retries
	// forever; a positive value produces reconnect_failed when spent.
	MaxAttempts int

	HandshakeTimeout time.Duration
}

// Client is the websocket event channel. One Client represents one
// logical connection: its ClientID survives transport-level
// reconnects, which the server uses to correlate re-authentication.
type Client struct {
	cfg      Config
	clientID id.ClientID
	log      *logging.Logger
	metrics  *monitoring.Metrics

	handlerMu sync.RWMutex
	handlers  map[string][]Handler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	started   bool

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a transport client. Connect must be called to start it.
func New(cfg Config, log *logging.Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server url scheme %q: want ws or wss", u.Scheme)
	}

	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 20 * time.Second
	}

	return &Client{
		cfg:      cfg,
		clientID: id.NewClientID(),
		log:      log,
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}, nil
}

// WithMetrics adds metrics tracking to the client.
func (c *Client) WithMetrics(m *monitoring.Metrics) *Client {
	c.metrics = m
	return c
}

// ClientID returns the stable logical connection identity.
func (c *Client) ClientID() id.ClientID {
	return c.clientID
}

// On registers a handler for an event type. Registration is expected
// before Connect; handlers run in receive order on the read goroutine.
func (c *Client) On(event string, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Connected reports whether a live connection exists right now.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect starts the dial/reconnect loop. It returns immediately;
// connection progress is reported through the lifecycle events.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("transport already started")
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
	return nil
}

// Close stops the reconnect loop and drops the connection. No
// lifecycle events are dispatched for a deliberate close.
func (c *Client) Close() error {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Emit sends one event frame. It fails fast when disconnected rather
// than queueing: the session layer gates its own sends and the server
// rebuilds state from re-authentication anyway.
func (c *Client) Emit(event string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		raw = data
	}

	frame, err := sonic.Marshal(Message{Type: event, ID: id.NewMessageID(), Data: raw})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}

	if c.metrics != nil {
		c.metrics.FramesSent.WithLabelValues(event).Inc()
	}
	return nil
}

func (c *Client) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialDelay
	bo.MaxInterval = c.cfg.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	attempts := 0
	first := true

	for {
		if c.closed() {
			return
		}

		conn, resp, err := dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			attempts++
			c.log.Warn("dial failed",
				zap.String("url", c.cfg.URL),
				zap.Int("attempt", attempts),
				zap.Error(err))

			if c.cfg.MaxAttempts > 0 && attempts >= c.cfg.MaxAttempts {
				c.log.Error("reconnect attempts exhausted", zap.Int("attempts", attempts))
				c.dispatch(EventReconnectFailed, nil)
				return
			}

			select {
			case <-c.done:
				return
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}

		attempts = 0
		bo.Reset()

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.mu.Unlock()

		if first {
			first = false
			c.log.Info("connected", zap.String("url", c.cfg.URL))
			c.dispatch(EventConnect, nil)
		} else {
			c.log.Info("reconnected", zap.String("url", c.cfg.URL))
			if c.metrics != nil {
				c.metrics.Reconnects.Inc()
			}
			c.dispatch(EventReconnect, nil)
		}

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		conn.Close()

		if c.closed() {
			return
		}

		c.log.Warn("connection lost")
		if c.metrics != nil {
			c.metrics.Disconnects.Inc()
		}
		c.dispatch(EventDisconnect, nil)
		c.dispatch(EventReconnecting, nil)
	}
}

// readLoop decodes frames until the connection fails. Dispatch happens
// here, on a single goroutine, so consumers see events for one
// connection strictly in receive order.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			if c.metrics != nil {
				c.metrics.FramesDropped.Inc()
			}
			continue
		}

		if c.metrics != nil {
			c.metrics.FramesReceived.WithLabelValues(msg.Type).Inc()
		}
		c.dispatch(msg.Type, msg.Data)
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.handlerMu.RLock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.handlerMu.RUnlock()

	if len(handlers) == 0 {
		c.log.Debug("no handler for event", zap.String("event", event))
		return
	}
	for _, h := range handlers {
		h(data)
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
