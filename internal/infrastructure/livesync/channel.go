package livesync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

var (
	ErrNotConnected       = errors.New("live sync channel is not connected")
	ErrAlreadyConnected   = errors.New("live sync channel is already connected")
	ErrReconnectExhausted = errors.New("live sync reconnect attempts exhausted")
	ErrEmptyToken         = errors.New("live sync token is required")
	errSessionClosed      = errors.New("live sync session closed")
)

var (
	syncMeter              = otel.Meter("networth/livesync")
	framesReceived, _      = syncMeter.Int64Counter("livesync.frames.received", metric.WithDescription("Decoded live sync frames by kind"))
	framesDropped, _       = syncMeter.Int64Counter("livesync.frames.dropped", metric.WithDescription("Malformed live sync frames"))
	reconnectsScheduled, _ = syncMeter.Int64Counter("livesync.reconnects.scheduled", metric.WithDescription("Reconnect attempts scheduled"))
	reconnectsExhausted, _ = syncMeter.Int64Counter("livesync.reconnects.exhausted", metric.WithDescription("Sessions that gave up reconnecting"))
)

// State is the connection state of a Channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Channel.
type Option func(*Channel)

// WithBackoff sets the first retry delay and the number of retries before
// giving up.
func WithBackoff(base time.Duration, maxAttempts int) Option {
	return func(c *Channel) {
		if base > 0 {
			c.baseDelay = base
		}
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

// WithClock replaces the timer source.
func WithClock(clock Clock) Option {
	return func(c *Channel) { c.clock = clock }
}

// Channel is an auto-reconnecting push connection.
//
// Every session started by Connect has a generation number. Disconnect bumps
// it, so callbacks of the previous session (read loop exit, retry timer,
// in-flight dial) find a different generation and do nothing.
type Channel struct {
	dialer      Dialer
	logger      *zap.Logger
	clock       Clock
	baseDelay   time.Duration
	maxAttempts int
	registry    *registry

	mu         sync.Mutex
	state      State
	gen        uint64
	token      string
	attempts   int
	conn       Conn
	timer      Timer
	sessionCtx context.Context
	cancel     context.CancelFunc
	exhausted  chan struct{}

	writeMu sync.Mutex
}

// New creates a disconnected channel.
func New(dialer Dialer, logger *zap.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		dialer:      dialer,
		logger:      logger,
		clock:       realClock{},
		baseDelay:   DefaultBaseDelay,
		maxAttempts: DefaultMaxAttempts,
		registry:    newRegistry(),
		exhausted:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Exhausted is closed when the current session gives up reconnecting.
// Each Connect starts a new session with a fresh channel.
func (c *Channel) Exhausted() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Unsubscribe removes a handler. Dispatch passes already in progress still
// deliver to it.
func (c *Channel) Unsubscribe(sub Subscription) bool {
	return c.registry.remove(sub)
}

// Connect starts a session. ctx bounds the first dial only; the session
// itself lives until Disconnect or until reconnects are exhausted. A failed
// first dial is returned and also schedules a retry.
func (c *Channel) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.gen++
	gen := c.gen
	c.token = token
	c.attempts = 0
	c.exhausted = make(chan struct{})
	c.sessionCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.state = StateConnecting
	sessionCtx := c.sessionCtx
	c.mu.Unlock()

	dialCtx, cancelDial := context.WithCancel(sessionCtx)
	defer cancelDial()
	stop := context.AfterFunc(ctx, cancelDial)
	defer stop()

	return c.dial(dialCtx, gen)
}

// Disconnect ends the session without reconnecting. The pending retry timer
// is stopped and any in-flight dial is cancelled.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	wasState := c.state
	c.state = StateDisconnected
	c.mu.Unlock()

	if wasState != StateDisconnected {
		c.logger.Info("Live sync disconnected")
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send writes an outbound frame. It fails with ErrNotConnected unless the
// channel is connected.
func (c *Channel) Send(kind Kind, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := encode(kind, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

func (c *Channel) dial(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, token)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return errSessionClosed
	}
	if err != nil {
		c.logger.Warn("Live sync dial failed", zap.Error(err), zap.Int("attempt", c.attempts))
		c.scheduleReconnectLocked(gen, err)
		c.mu.Unlock()
		return fmt.Errorf("dial live sync: %w", err)
	}

	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("Live sync connected")

	go c.readLoop(gen, conn)
	return nil
}

// scheduleReconnectLocked arms the retry timer or gives up. c.mu must be held.
func (c *Channel) scheduleReconnectLocked(gen uint64, cause error) {
	if c.attempts >= c.maxAttempts {
		c.state = StateDisconnected
		c.conn = nil
		c.timer = nil
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		close(c.exhausted)
		reconnectsExhausted.Add(context.Background(), 1)
		c.logger.Error("Live sync giving up",
			zap.Error(ErrReconnectExhausted),
			zap.Int("attempts", c.attempts),
			zap.NamedError("cause", cause))
		return
	}

	delay := c.baseDelay << c.attempts
	c.attempts++
	c.state = StateReconnecting
	c.timer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })

	reconnectsScheduled.Add(context.Background(), 1)
	c.logger.Warn("Live sync reconnect scheduled",
		zap.Int("attempt", c.attempts),
		zap.Int("max_attempts", c.maxAttempts),
		zap.Duration("retry_in", delay),
		zap.NamedError("cause", cause))
}

func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateConnecting
	ctx := c.sessionCtx
	c.mu.Unlock()

	_ = c.dial(ctx, gen)
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Panic in live sync read loop",
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
			c.connectionLost(gen, conn, fmt.Errorf("read loop panic: %v", rec))
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(gen, conn, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) connectionLost(gen uint64, conn Conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Explicit Disconnect already took this connection down
	if c.gen != gen || c.conn != conn {
		return
	}

	_ = conn.Close()
	c.conn = nil
	c.logger.Warn("Live sync connection lost", zap.Error(cause))
	c.scheduleReconnectLocked(gen, cause)
}

func (c *Channel) dispatch(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		framesDropped.Add(context.Background(), 1)
		c.logger.Debug("Dropping malformed live sync frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	framesReceived.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(msg.Kind()))))

	for _, e := range c.registry.handlersFor(msg) {
		c.invoke(e, msg)
	}
}

func (c *Channel) invoke(e entry, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Panic in live sync handler",
				zap.String("kind", string(msg.Kind())),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	e.fn(msg)
}
