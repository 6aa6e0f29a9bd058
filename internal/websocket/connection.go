package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// Options tunes a connection's buffers and timers
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	// PingInterval must be shorter than ReadTimeout
	PingInterval time.Duration
	// ReadTimeout is how long to wait for any frame or pong
	ReadTimeout time.Duration
	// IdleTimeout closes connections that send no frames; 0 disables
	IdleTimeout  time.Duration
	MaxFrameSize int64
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		SendBuffer:   100,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		IdleTimeout:  30 * time.Minute,
		MaxFrameSize: 64 * 1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.ReadTimeout {
		o.PingInterval = o.ReadTimeout * 9 / 10
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = d.MaxFrameSize
	}
	return o
}

// Connection implements interfaces.Connection over a gorilla websocket.
// All data frames go through a single writer goroutine; control frames
// use WriteControl, which gorilla allows concurrently.
type Connection struct {
	id       string
	ws       *websocket.Conn
	identity types.Identity
	opts     Options
	logger   *zap.Logger

	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error

	lastActivity atomic.Int64
}

// NewConnection wraps ws and starts its writer goroutine
func NewConnection(ws *websocket.Conn, identity types.Identity, opts Options, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	c := &Connection{
		id:       id,
		ws:       ws,
		identity: identity,
		opts:     opts,
		logger:   logger.With(zap.String("connection", id)),
		send:     make(chan []byte, opts.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.touch()

	go c.writeLoop()
	return c
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Identity() types.Identity {
	return c.identity
}

// Done is closed once the connection has been closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Send enqueues an encoded frame without blocking
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return interfaces.ErrSendBufferFull
	}
}

// WriteJSON encodes v and waits up to the write timeout for buffer space
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.send <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close sends a normal closure frame and closes the socket
func (c *Connection) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame carrying code and closes the socket.
// Only the first close takes effect.
func (c *Connection) CloseWithCode(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.cancel()
		if code > 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("Failed to send close frame", zap.Int("code", code), zap.Error(err))
			}
		}
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// abort closes without a close frame, for transports that already failed
func (c *Connection) abort() {
	_ = c.CloseWithCode(0, "")
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.abort()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Write failed", zap.Error(err))
				c.abort()
				return
			}

		case <-ticker.C:
			if c.opts.IdleTimeout > 0 && c.idleFor() > c.opts.IdleTimeout {
				c.logger.Info("Closing idle connection", zap.Duration("idle", c.idleFor()))
				_ = c.CloseWithCode(websocket.CloseGoingAway, "idle timeout")
				return
			}
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("Ping failed", zap.Error(err))
				c.abort()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ReadLoop reads frames until the peer goes away, the connection is
// closed, or handle returns an error. Frames are handed to handle one at
// a time in arrival order. A clean close returns nil.
func (c *Connection) ReadLoop(handle func(frame []byte) error) error {
	c.ws.SetReadLimit(c.opts.MaxFrameSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		return err
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		c.touch()
		if err := handle(data); err != nil {
			return err
		}
	}
}
