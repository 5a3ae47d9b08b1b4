// Package channel manages the one logical duplex connection to the host
// process, used for both chat streaming and control messages.
//
// The channel survives an unreliable transport: unexpected disconnects are
// retried with exponential backoff (reset on success), liveness is probed
// with a periodic heartbeat whose failure forces a proactive reconnect,
// outbound messages are queued (bounded) while disconnected, and late or
// duplicate completion signals are dropped by request-id de-duplication.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the channel connection state. Transitions are one-directional per
// attempt: Disconnected → Connecting → Connected|Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrRequestTimeout is returned by [Channel.Request] when no response arrived
// within the request's timeout.
var ErrRequestTimeout = errors.New("channel: request timed out")

// Defaults for [Config] zero values.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultInitialBackoff    = 1000 * time.Millisecond
	DefaultMaxBackoff        = 10000 * time.Millisecond
	DefaultQueueCapacity     = 50
	DefaultDedupCapacity     = 100
	DefaultDialTimeout       = 10 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
)

// Config holds the channel's tuning knobs. Zero values take the defaults.
type Config struct {
	// URL of the host process endpoint.
	URL string

	// HeartbeatInterval between liveness probes while connected.
	HeartbeatInterval time.Duration

	// InitialBackoff is the first reconnect delay after a failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration

	// QueueCapacity bounds the outbound queue held while disconnected.
	QueueCapacity int

	// DedupCapacity bounds the set of seen completion request-ids.
	DedupCapacity int

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration

	// RequestTimeout is the default deadline for [Channel.Request].
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = DefaultDedupCapacity
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Handler receives inbound messages that are not responses to a pending
// [Channel.Request]. It is invoked from the channel's read goroutine and must
// not block.
type Handler func(Message)

// Option configures a [Channel] during construction.
type Option func(*Channel)

// WithHandler registers the inbound message handler.
func WithHandler(h Handler) Option {
	return func(c *Channel) { c.handler = h }
}

// WithOnStateChange registers a callback invoked on every state transition.
func WithOnStateChange(fn func(State)) Option {
	return func(c *Channel) { c.onState = fn }
}

// WithOnQueueReject registers a callback invoked whenever an outbound message
// is dropped because the offline queue is full.
func WithOnQueueReject(fn func()) Option {
	return func(c *Channel) { c.onQueueReject = fn }
}

// WithScheduler replaces the reconnect timer factory. Tests use this to
// capture scheduled delays and fire them synchronously.
func WithScheduler(schedule func(d time.Duration, fn func()) (cancel func())) Option {
	return func(c *Channel) { c.schedule = schedule }
}

// WithIDGenerator replaces the request-id generator (default: UUIDv4).
func WithIDGenerator(fn func() string) Option {
	return func(c *Channel) { c.newID = fn }
}

type pendingRequest struct {
	ch   chan Message
	once sync.Once
}

// Channel is the reconnecting duplex message channel. All exported methods
// are safe for concurrent use.
type Channel struct {
	cfg           Config
	dialer        Dialer
	handler       Handler
	onState       func(State)
	onQueueReject func()
	schedule      func(d time.Duration, fn func()) (cancel func())
	newID         func() string

	mu          sync.Mutex
	state       State
	conn        Conn
	gen         int // connection generation; stale goroutine callbacks are ignored
	failures    int // consecutive failed attempts, reset on success
	queue       *outboundQueue
	seen        *seenSet
	pending     map[string]*pendingRequest
	loopCancel  context.CancelFunc
	cancelRetry func()
	stopped     bool
}

// New creates a Channel. It does not connect; call [Channel.Connect].
func New(dialer Dialer, cfg Config, opts ...Option) *Channel {
	cfg = cfg.withDefaults()
	c := &Channel{
		cfg:     cfg,
		dialer:  dialer,
		queue:   newOutboundQueue(cfg.QueueCapacity),
		seen:    newSeenSet(cfg.DedupCapacity),
		pending: make(map[string]*pendingRequest),
		newID:   uuid.NewString,
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen returns the number of messages waiting for reconnection.
func (c *Channel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// Connect establishes the transport. It is idempotent: a no-op when already
// connected or connecting. External lifecycle triggers (visibility
// restoration, history navigation) may call it redundantly at any time.
func (c *Channel) Connect() {
	c.mu.Lock()
	c.stopped = false
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	go c.dial(gen)
}

// Kick re-establishes the channel after an external lifecycle signal. It is a
// Connect alias that exists so call sites read as what they are: redundant
// safety triggers, safe because Connect is idempotent.
func (c *Channel) Kick() {
	c.Connect()
}

// Disconnect tears down the transport and listeners, clears the outbound
// queue, and stops reconnection until the next Connect call.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	c.gen++
	conn := c.conn
	c.conn = nil
	cancel := c.loopCancel
	c.loopCancel = nil
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.failures = 0
	c.queue.clear()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if changed {
		c.notifyState(StateDisconnected)
	}
}

// Send delivers m immediately when connected and returns true. Otherwise m is
// appended to the outbound queue (dropped with a warning when the queue is
// full) and false is returned so the caller can apply its own fallback.
func (c *Channel) Send(m Message) bool {
	m = m.stamp()

	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		if !c.queue.push(m) {
			c.mu.Unlock()
			slog.Warn("channel: outbound queue full, dropping message",
				"kind", m.Kind, "capacity", c.cfg.QueueCapacity)
			if c.onQueueReject != nil {
				c.onQueueReject()
			}
			return false
		}
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	gen := c.gen
	c.mu.Unlock()

	if err := c.write(conn, m); err != nil {
		slog.Warn("channel: send failed, reconnecting", "kind", m.Kind, "err", err)
		c.teardown(gen, err)
		return false
	}
	return true
}

// Request performs a point-to-point exchange: m is sent with a fresh request
// id and Request blocks until a response with that id arrives, ctx is
// cancelled, or the configured request timeout elapses. Cleanup of the
// pending listener is idempotent, so a timeout racing a disconnect releases
// resources exactly once.
func (c *Channel) Request(ctx context.Context, kind string, payload json.RawMessage) (Message, error) {
	id := c.newID()
	p := &pendingRequest{ch: make(chan Message, 1)}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	cleanup := func() {
		p.once.Do(func() {
			c.mu.Lock()
			delete(c.pending, id)
			c.mu.Unlock()
		})
	}
	defer cleanup()

	c.Send(Message{Kind: kind, Payload: payload, RequestID: id})

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-p.ch:
		return resp, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("channel: request %s: %w", kind, ctx.Err())
	case <-timer.C:
		return Message{}, ErrRequestTimeout
	}
}

// dial performs one connection attempt for generation gen.
func (c *Channel) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	cancel()

	c.mu.Lock()
	if c.stopped || c.gen != gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		c.state = StateDisconnected
		c.failures++
		delay := backoffDelay(c.failures, c.cfg.InitialBackoff, c.cfg.MaxBackoff)
		c.scheduleReconnectLocked(delay)
		failures := c.failures
		c.mu.Unlock()

		slog.Warn("channel: connect failed",
			"attempt", failures, "retry_in", delay, "err", err)
		c.notifyState(StateDisconnected)
		return
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.loopCancel = loopCancel
	c.state = StateConnected
	c.failures = 0
	queued := c.queue.drain()
	c.mu.Unlock()

	slog.Info("channel: connected", "url", c.cfg.URL, "flushing", len(queued))
	c.notifyState(StateConnected)

	go c.readLoop(loopCtx, conn, gen)
	go c.heartbeatLoop(loopCtx, conn, gen)

	// Flush messages queued while disconnected, preserving order.
	for _, m := range queued {
		if err := c.write(conn, m); err != nil {
			slog.Warn("channel: flush failed", "kind", m.Kind, "err", err)
			c.teardown(gen, err)
			return
		}
	}
}

// teardown handles an unexpected connection loss for generation gen and
// schedules a reconnect. Stale generations are ignored, so a late error from
// an old read loop cannot tear down a newer connection.
func (c *Channel) teardown(gen int, cause error) {
	c.mu.Lock()
	if c.stopped || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	conn := c.conn
	c.conn = nil
	cancel := c.loopCancel
	c.loopCancel = nil
	c.state = StateDisconnected
	c.failures++
	delay := backoffDelay(c.failures, c.cfg.InitialBackoff, c.cfg.MaxBackoff)
	c.scheduleReconnectLocked(delay)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	slog.Warn("channel: disconnected", "retry_in", delay, "err", cause)
	c.notifyState(StateDisconnected)
}

// scheduleReconnectLocked arms the retry timer. Must be called with c.mu held.
func (c *Channel) scheduleReconnectLocked(d time.Duration) {
	if c.cancelRetry != nil {
		c.cancelRetry()
	}
	c.cancelRetry = c.schedule(d, c.retry)
}

// retry re-enters the connect path when the backoff timer fires.
func (c *Channel) retry() {
	c.mu.Lock()
	if c.stopped || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.cancelRetry = nil
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	go c.dial(gen)
}

// readLoop consumes inbound messages until the connection fails or is torn
// down.
func (c *Channel) readLoop(ctx context.Context, conn Conn, gen int) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.teardown(gen, err)
			}
			return
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("channel: dropping malformed message", "err", err)
			continue
		}
		c.handleInbound(m)
	}
}

// heartbeatLoop sends periodic liveness probes. A failed probe is treated as
// a dead connection: tear down proactively instead of waiting for a passive
// disconnect event.
func (c *Channel) heartbeatLoop(ctx context.Context, conn Conn, gen int) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, Message{Kind: KindHeartbeat}.stamp()); err != nil {
				slog.Warn("channel: heartbeat failed, reconnecting", "err", err)
				c.teardown(gen, err)
				return
			}
		}
	}
}

// handleInbound routes one inbound message: liveness replies are absorbed,
// completion signals are de-duplicated and matched against pending requests,
// everything else goes to the handler.
func (c *Channel) handleInbound(m Message) {
	switch m.Kind {
	case KindPong:
		return

	case KindStreamEnd, KindStreamError, KindResponse:
		c.mu.Lock()
		if c.seen.observe(m.RequestID) {
			c.mu.Unlock()
			slog.Debug("channel: ignoring duplicate completion",
				"kind", m.Kind, "request_id", m.RequestID)
			return
		}
		p := c.pending[m.RequestID]
		delete(c.pending, m.RequestID)
		c.mu.Unlock()

		if p != nil {
			select {
			case p.ch <- m:
			default:
			}
			return
		}
		if m.Kind == KindResponse {
			// A response nobody is waiting for (e.g. it lost the race
			// against its own timeout) is dropped, not delivered.
			slog.Debug("channel: ignoring unexpected response",
				"request_id", m.RequestID)
			return
		}
	}

	if c.handler != nil {
		c.handler(m)
	}
}

func (c *Channel) write(conn Conn, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("channel: marshal %s: %w", m.Kind, err)
	}
	return conn.Write(context.Background(), data)
}

func (c *Channel) notifyState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}
