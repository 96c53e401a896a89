package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/uivlisievoicroc/escalada-scoreboard/internal/protocol"
)

// State is the lifecycle of a channel. A channel cycles through
// Connecting/Open/ClosedWillRetry until the circuit opens, which is
// terminal: recovery then requires a fresh channel.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosedWillRetry
	StateClosedCircuitOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedWillRetry:
		return "closed-will-retry"
	case StateClosedCircuitOpen:
		return "closed-circuit-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned once the reconnect budget is exhausted.
	ErrCircuitOpen = errors.New("transport: circuit open, manual reconnect required")
	// ErrQueueFull is returned when the outbound queue cannot absorb
	// another message while the connection is down.
	ErrQueueFull = errors.New("transport: outbound queue full")
)

// Config tunes one channel.
type Config struct {
	URL         string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	DialTimeout time.Duration
	QueueLimit  int
}

func DefaultConfig(url string) Config {
	return Config{
		URL:         url,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
		DialTimeout: 10 * time.Second,
		QueueLimit:  64,
	}
}

// Handler receives every non-heartbeat inbound message, in arrival order.
type Handler func(msg protocol.Inbound)

// Channel owns one resilient streaming connection to the authority. It
// reconnects with capped exponential backoff, opens its circuit after
// MaxAttempts consecutive failures, queues outbound messages while down
// and answers heartbeats. Each connection attempt carries a monotonically
// increasing generation token; callbacks from superseded attempts are
// no-ops, so a stale dial completing late cannot disturb a newer attempt.
type Channel struct {
	cfg     Config
	dialer  Dialer
	clock   clockwork.Clock
	handler Handler
	hb      *HeartbeatResponder
	onState func(State)

	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	attempts   int
	conn       Conn
	queue      [][]byte
}

// Option adjusts a Channel at construction.
type Option func(*Channel)

func WithDialer(d Dialer) Option                  { return func(c *Channel) { c.dialer = d } }
func WithClock(clock clockwork.Clock) Option      { return func(c *Channel) { c.clock = clock } }
func WithStateFunc(fn func(State)) Option         { return func(c *Channel) { c.onState = fn } }
func WithHeartbeat(hb *HeartbeatResponder) Option { return func(c *Channel) { c.hb = hb } }

func NewChannel(cfg Config, handler Handler, opts ...Option) *Channel {
	c := &Channel{
		cfg:     cfg,
		handler: handler,
		state:   StateConnecting,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = WebsocketDialer{HandshakeTimeout: cfg.DialTimeout}
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.hb == nil {
		c.hb = NewHeartbeatResponder(c.clock)
	}
	return c
}

// Run drives the connection lifecycle until the context is cancelled or
// the circuit opens. The circuit-open condition is surfaced to the caller
// as ErrCircuitOpen; it is terminal and user-visible.
func (c *Channel) Run(ctx context.Context) error {
	for {
		gen := c.beginAttempt()

		dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		conn, err := c.dialer.DialContext(dctx, c.cfg.URL)
		cancel()

		if err == nil {
			if c.handleOpen(gen, conn) {
				c.readLoop(conn)
			} else {
				conn.Close()
			}
		} else {
			log.Debug().Err(err).Str("url", c.cfg.URL).Msg("dial failed")
		}
		c.handleClosed(gen)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.mu.Lock()
		failures := c.attempts
		c.mu.Unlock()

		if failures >= c.cfg.MaxAttempts {
			c.setState(StateClosedCircuitOpen)
			log.Error().
				Int("attempts", failures).
				Str("url", c.cfg.URL).
				Msg("reconnect budget exhausted, circuit open")
			return ErrCircuitOpen
		}

		c.setState(StateClosedWillRetry)
		delay := c.backoffDelay(failures)
		log.Info().
			Int("attempts", failures).
			Dur("delay", delay).
			Msg("reconnecting after backoff")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(delay):
		}
	}
}

// Send writes a message when the connection is open, queues it FIFO while
// reconnecting, and refuses it once the circuit is open.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		conn := c.conn
		c.mu.Unlock()
		return c.write(conn, data)
	case StateClosedCircuitOpen:
		c.mu.Unlock()
		return ErrCircuitOpen
	default:
		if len(c.queue) >= c.cfg.QueueLimit {
			c.mu.Unlock()
			return ErrQueueFull
		}
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		return nil
	}
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// beginAttempt supersedes every earlier attempt and returns the new
// attempt's generation token.
func (c *Channel) beginAttempt() uint64 {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)
	return gen
}

// handleOpen installs the attempt's connection and flushes the outbound
// queue in FIFO order. A superseded attempt's open is a no-op.
func (c *Channel) handleOpen(gen uint64, conn Conn) bool {
	c.mu.Lock()
	if gen != c.generation || c.state == StateClosedCircuitOpen {
		c.mu.Unlock()
		log.Debug().Uint64("generation", gen).Msg("ignoring open from superseded attempt")
		return false
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.notifyState(StateOpen)
	log.Info().Str("url", c.cfg.URL).Msg("stream connected")

	for _, data := range queued {
		if err := c.write(conn, data); err != nil {
			log.Warn().Err(err).Msg("flushing queued message failed")
			break
		}
	}
	return true
}

// handleClosed records a connection failure. A superseded attempt's close
// is a no-op so overlapping attempts cannot double-count.
func (c *Channel) handleClosed(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		log.Debug().Uint64("generation", gen).Msg("ignoring close from superseded attempt")
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.attempts++
	c.mu.Unlock()
}

// readLoop processes inbound frames in arrival order until the connection
// errors. Malformed frames are dropped, never fatal; heartbeats are echoed
// immediately and not passed to the handler.
func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("stream read ended")
			return
		}

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch m := msg.(type) {
		case *protocol.Heartbeat:
			if err := c.hb.Respond(lockedWriter{c: c, conn: conn}, m); err != nil {
				log.Warn().Err(err).Msg("heartbeat echo failed")
			}
		default:
			if c.handler != nil {
				c.handler(msg)
			}
		}
	}
}

func (c *Channel) backoffDelay(failures int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	return d
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notifyState(s)
}

func (c *Channel) notifyState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

// write serializes all writers on one connection; gorilla/websocket allows
// a single concurrent writer.
func (c *Channel) write(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(data)
}

type lockedWriter struct {
	c    *Channel
	conn Conn
}

func (w lockedWriter) WriteMessage(data []byte) error {
	return w.c.write(w.conn, data)
}
