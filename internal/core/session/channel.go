// Package session implements the persistent connection of one document
// editing session.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/protocol"
)

// State of a channel. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Channel is the websocket connection of one session. Incoming frames are
// delivered on Messages in arrival order. There is no client-side queueing:
// sending on a channel that is not open fails immediately.
type Channel struct {
	id     string
	config Config
	dialer *websocket.Dialer
	logger log.Log

	conn    *websocket.Conn
	writeMu sync.Mutex

	state   int32
	started int32
	reading int32

	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// New creates a channel in the Connecting state.
func New(config Config, logger log.Log) *Channel {
	defaults := DefaultConfig()
	if config.InboundBuffer <= 0 {
		config.InboundBuffer = defaults.InboundBuffer
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}

	id := uuid.NewString()
	return &Channel{
		id:     id,
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		logger: logger.With(
			log.String("component", "session"),
			log.String("session_id", id),
			log.Int64("document_id", int64(config.DocumentID)),
		),
		inbound: make(chan []byte, config.InboundBuffer),
		done:    make(chan struct{}),
	}
}

// ID returns the unique id of this channel.
func (c *Channel) ID() string {
	return c.id
}

// DocumentID returns the document this channel is scoped to.
func (c *Channel) DocumentID() protocol.DocumentID {
	return c.config.DocumentID
}

// State returns the current state.
func (c *Channel) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// Messages delivers received frames. It is closed once the channel is closed
// and every received frame has been delivered.
func (c *Channel) Messages() <-chan []byte {
	return c.inbound
}

// Done is closed when the channel enters the Closed state.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the transport error that closed the channel, if any.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Open connects to the endpoint according to the dial policy. Entering the
// Open state immediately sends Load for the session's document.
func (c *Channel) Open(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return ErrAlreadyStarted
	}

	target, err := c.config.Target()
	if err != nil {
		c.fail(err)
		return err
	}

	c.logger.Info("Connecting session channel", log.String("url", target))

	conn, err := c.dial(ctx, target)
	if err != nil {
		err = errors.Wrap(ErrDialFailed, err.Error())
		c.fail(err)
		return err
	}

	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.writeMu.Lock()
	c.conn = conn
	opened := atomic.CompareAndSwapInt32(&c.state, int32(StateConnecting), int32(StateOpen))
	c.writeMu.Unlock()
	if !opened {
		// closed while dialing
		_ = conn.Close()
		return ErrClosed
	}

	c.logger.Info("Session channel open",
		log.String("local_addr", conn.LocalAddr().String()),
		log.String("remote_addr", conn.RemoteAddr().String()))

	if err = c.Send(protocol.Load{DocumentID: c.config.DocumentID}); err != nil {
		c.fail(err)
		return err
	}

	if !atomic.CompareAndSwapInt32(&c.reading, 0, 1) {
		return ErrClosed
	}
	go c.readLoop()

	return nil
}

// Send encodes and writes m.
func (c *Channel) Send(m protocol.Message) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}

	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		err = errors.Wrap(err, "failed to write message")
		c.fail(err)
		return err
	}

	c.logger.Debug("Message sent", log.String("type", m.Type().String()))
	return nil
}

// Close closes the channel. It is safe to call more than once.
func (c *Channel) Close() error {
	return c.closeWith(nil)
}

func (c *Channel) closeWith(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		previous := State(atomic.SwapInt32(&c.state, int32(StateClosed)))
		if cause != nil {
			c.errMu.Lock()
			c.err = cause
			c.errMu.Unlock()
		}

		c.writeMu.Lock()
		if c.conn != nil {
			if previous == StateOpen && cause == nil {
				closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
				_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
			}
			err = c.conn.Close()
		}
		c.writeMu.Unlock()
		close(c.done)

		// without a reader nobody else will close the inbound queue
		if atomic.CompareAndSwapInt32(&c.reading, 0, 2) {
			close(c.inbound)
		}

		c.logger.Info("Session channel closed", log.String("from", previous.String()), log.Error(cause))
	})
	return err
}

// fail logs a transport error and closes the channel.
func (c *Channel) fail(err error) {
	if c.State() == StateClosed {
		return
	}
	c.logger.Error("Session channel error", log.Error(err))
	_ = c.closeWith(err)
}

func (c *Channel) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	var conn *websocket.Conn
	attempt := func() error {
		cn, _, err := c.dialer.DialContext(ctx, target, c.config.Header)
		if err != nil {
			return err
		}
		conn = cn
		return nil
	}

	if c.config.Dial.Mode != DialBounded || c.config.Dial.MaxRetries <= 0 {
		err := attempt()
		return conn, err
	}

	policy := backoff.NewExponentialBackOff()
	if c.config.Dial.InitialInterval > 0 {
		policy.InitialInterval = c.config.Dial.InitialInterval
	}
	if c.config.Dial.MaxInterval > 0 {
		policy.MaxInterval = c.config.Dial.MaxInterval
	}
	policy.MaxElapsedTime = 0

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.config.Dial.MaxRetries)), ctx)
	err := backoff.RetryNotify(attempt, retry, func(err error, wait time.Duration) {
		c.logger.Warn("Dial attempt failed", log.Error(err), log.Duration("retry_in", wait))
	})
	return conn, err
}

func (c *Channel) readLoop() {
	defer close(c.inbound)

	c.logger.Debug("Reader started")
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() != StateClosed {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Info("Server closed session channel")
					_ = c.closeWith(nil)
				} else {
					c.fail(errors.Wrap(err, "failed to read message"))
				}
			}
			c.logger.Debug("Reader stopped")
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case c.inbound <- data:
		case <-c.done:
			return
		}
	}
}
