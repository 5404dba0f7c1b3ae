package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// Options tunes a connection's heartbeat and queueing.
type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
	AllowedOrigins []string
	Clock          clockwork.Clock
}

// DefaultOptions returns the production heartbeat settings.
func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteTimeout:   10 * time.Second,
		BufferSize:     64,
		MaxMessageSize: 4096,
		Clock:          clockwork.NewRealClock(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}

// Connection wraps a gorilla connection. All writes go through one writer
// goroutine fed by a bounded queue, so TrySend never blocks the caller.
type Connection struct {
	id        string
	conn      *websocket.Conn
	opts      Options
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		opts:    opts,
		writeCh: make(chan []byte, opts.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go c.writeLoop()
	return c
}

// ID returns the connection's uuid.
func (c *Connection) ID() string {
	return c.id
}

// TrySend queues data for the writer goroutine. It fails fast with
// ErrConnectionClosed after Close and ErrSendBufferFull when the client
// has fallen BufferSize frames behind.
func (c *Connection) TrySend(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Queued frames are dropped.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the writer goroutine has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) writeLoop() {
	defer close(c.done)
	defer func() { _ = c.Close() }()

	ticker := c.opts.Clock.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(c.opts.Clock.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.Chan():
			deadline := c.opts.Clock.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// prepareRead applies the read limit and the pong-extended read deadline.
func (c *Connection) prepareRead() error {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(c.opts.Clock.Now().Add(c.opts.PongWait)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(c.opts.Clock.Now().Add(c.opts.PongWait))
	})
	return nil
}
