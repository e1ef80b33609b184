// Package guide connects a session to the real-time guidance service: a
// reconnecting websocket channel, the event orchestrator, and voice I/O
// plumbing.
package guide

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearvisa-go/guide-lite/pkg/core"
	"github.com/clearvisa-go/guide-lite/pkg/guide/protocol"
)

// ChannelState is the connection lifecycle state.
type ChannelState int

const (
	// StateDisconnected means no connection and no dial in progress.
	StateDisconnected ChannelState = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the duplex channel is up.
	StateConnected
	// StateFailed is terminal: reconnection attempts were exhausted.
	StateFailed
)

// String returns a human-readable state name.
func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

const defaultDialTimeout = 10 * time.Second

// ChannelConfig configures the reconnecting channel.
type ChannelConfig struct {
	// URL is the full websocket endpoint including the session id path.
	URL string
	// ReconnectBase is the first backoff delay.
	ReconnectBase time.Duration
	// ReconnectCap bounds the backoff delay.
	ReconnectCap time.Duration
	// MaxAttempts is how many reconnects are tried before giving up.
	MaxAttempts int
}

// reconnectDelay computes the backoff before retry attempt (0-based):
// base doubled per attempt, capped.
func reconnectDelay(base, cap time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d <= 0 || d > cap {
		return cap
	}
	return d
}

// ChannelOption customizes a Channel.
type ChannelOption func(*Channel)

// WithChannelLogger sets the logger.
func WithChannelLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithChannelMetrics attaches transport counters.
func WithChannelMetrics(m *Metrics) ChannelOption {
	return func(c *Channel) { c.metrics = m }
}

// WithOnChannelState registers a state transition callback. It is invoked
// synchronously and must not block.
func WithOnChannelState(fn func(ChannelState)) ChannelOption {
	return func(c *Channel) { c.onState = fn }
}

// Channel is a duplex websocket to the guidance service that reconnects
// itself with exponential backoff. Events arrive on the onEvent callback;
// sends while disconnected are dropped, never queued.
type Channel struct {
	cfg     ChannelConfig
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *Metrics
	onEvent func(protocol.Event)
	onState func(ChannelState)

	mu      sync.Mutex
	state   ChannelState
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
	started   bool
}

// NewChannel builds a Channel. onEvent receives every decoded inbound event
// except unknown types, which are logged and dropped.
func NewChannel(cfg ChannelConfig, onEvent func(protocol.Event), opts ...ChannelOption) *Channel {
	c := &Channel{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
		logger:  slog.Default(),
		onEvent: onEvent,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. It returns once the loop is running;
// watch state transitions for the outcome.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.run(ctx)
}

// run dials, pumps the read loop, and redials with backoff until the retry
// budget is spent or the channel is closed.
func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	attempt := 0
	for {
		if c.isClosed() {
			c.setState(StateDisconnected)
			return
		}
		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.setState(StateConnected)

			c.readLoop(conn)

			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			_ = conn.Close()
			if c.isClosed() {
				c.setState(StateDisconnected)
				return
			}
			c.logger.Warn("guidance channel dropped, reconnecting")
		} else {
			c.logger.Warn("guidance channel dial failed", "error", err, "attempt", attempt)
		}
		c.setState(StateDisconnected)

		if attempt >= c.cfg.MaxAttempts {
			c.logger.Error("guidance channel reconnect attempts exhausted",
				"attempts", c.cfg.MaxAttempts)
			c.setState(StateFailed)
			c.emit(protocol.ErrorEvent{
				Message: core.NewTransportFailedError("reconnect attempts exhausted", err).Error(),
			})
			return
		}

		delay := reconnectDelay(c.cfg.ReconnectBase, c.cfg.ReconnectCap, attempt)
		attempt++
		if c.metrics != nil {
			c.metrics.ReconnectAttempts.Inc()
		}

		select {
		case <-time.After(delay):
		case <-c.closed:
			c.setState(StateDisconnected)
			return
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	return conn, err
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if !c.isClosed() {
				c.logger.Warn("guidance channel read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed guidance frame", "error", err)
			continue
		}
		if unknown, ok := event.(protocol.UnknownEvent); ok {
			c.logger.Debug("ignoring unknown guidance message", "type", unknown.Type)
			if c.metrics != nil {
				c.metrics.UnknownEvents.Inc()
			}
			continue
		}
		if c.metrics != nil {
			c.metrics.EventsReceived.WithLabelValues(eventLabel(event)).Inc()
		}
		c.emit(event)
	}
}

func eventLabel(event protocol.Event) string {
	switch event.(type) {
	case protocol.ConnectionEstablishedEvent:
		return protocol.TypeConnectionEstablished
	case protocol.AdviceEvent:
		return "advice"
	case protocol.TranscriptionEvent:
		return protocol.TypeTranscription
	case protocol.ErrorEvent:
		return protocol.TypeError
	default:
		return "other"
	}
}

func (c *Channel) emit(event protocol.Event) {
	if c.onEvent != nil {
		c.onEvent(event)
	}
}

// Send writes one outbound message. While the channel is not connected the
// message is logged and dropped; callers wanting delivery must watch state.
func (c *Channel) Send(msgType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal outbound guidance message failed",
			"type", msgType, "error", err)
		return
	}

	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		c.logger.Warn("dropping outbound guidance message, channel not connected",
			"type", msgType, "state", state.String())
		if c.metrics != nil {
			c.metrics.MessagesDropped.Inc()
		}
		return
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("guidance channel write failed", "type", msgType, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.MessagesSent.WithLabelValues(msgType).Inc()
	}
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close shuts the channel down and suppresses further reconnects. It waits
// for the connection loop to exit.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
	})
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
}

func (c *Channel) setState(state ChannelState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ChannelState.Set(float64(state))
	}
	c.logger.Debug("guidance channel state", "state", state.String())
	if c.onState != nil {
		c.onState(state)
	}
}
