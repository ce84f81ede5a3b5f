package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/graffiti/internal/ir"
)

// Defaults for Config fields left at zero.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultOutboxSize        = 256
)

var (
	// ErrClosed is returned when sending on a dead connection.
	ErrClosed = errors.New("connection closed")

	// ErrOutboxFull is returned when a slow client let its outbox fill up.
	// The connection is dead afterwards.
	ErrOutboxFull = errors.New("connection outbox full")
)

// Transport writes JSON messages to one client.
type Transport interface {
	WriteJSON(ctx context.Context, v any) error
	Close() error
}

// Deregisterer removes a connection's subscriptions.
// Implemented by *registry.Registry.
type Deregisterer interface {
	Unregister(connID string)
}

// Config tunes a Conn.
type Config struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	OutboxSize        int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = DefaultOutboxSize
	}
	return c
}

// Conn is the delivery channel for one client connection.
//
// Thread-safety: all Send methods are safe for concurrent use and never
// block on the transport.
type Conn struct {
	id        string
	transport Transport
	registry  Deregisterer
	cfg       Config

	outbox chan any
	done   chan struct{}

	mu    sync.Mutex
	dead  bool
	cause error

	teardown sync.Once
	started  sync.Once
}

// NewConn creates a Conn. Call Start to begin writing.
func NewConn(id string, transport Transport, registry Deregisterer, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		id:        id,
		transport: transport,
		registry:  registry,
		cfg:       cfg,
		outbox:    make(chan any, cfg.OutboxSize),
		done:      make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Done is closed once the connection is dead.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection died, or nil while it is alive.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Start launches the writer goroutine. It stops when ctx is cancelled or
// the connection dies; cancellation closes the connection.
func (c *Conn) Start(ctx context.Context) {
	c.started.Do(func() {
		go c.writeLoop(ctx)
	})
}

// SendUpdates queues an updates message. It does not deregister on failure:
// the broker calls it while holding the registry and unregisters itself.
func (c *Conn) SendUpdates(queryID string, docs []*ir.Document, historical, complete bool) error {
	if docs == nil {
		docs = []*ir.Document{}
	}
	return c.enqueue(UpdatesMessage{
		Type:       TypeUpdates,
		QueryID:    queryID,
		Results:    docs,
		Complete:   complete,
		Historical: historical,
	})
}

// SendDeletes queues a deletes message. See SendUpdates for failure handling.
func (c *Conn) SendDeletes(queryID string, objectIDs []string) error {
	return c.enqueue(DeletesMessage{
		Type:     TypeDeletes,
		QueryID:  queryID,
		Results:  objectIDs,
		Complete: true,
	})
}

// SendError queues a subscription-scoped error. See SendUpdates for
// failure handling.
func (c *Conn) SendError(queryID, detail string) error {
	return c.enqueue(ErrorMessage{Type: TypeError, QueryID: queryID, Detail: detail})
}

// SendMatch queues a single live match.
func (c *Conn) SendMatch(queryID string, doc *ir.Document) error {
	return c.SendUpdates(queryID, []*ir.Document{doc}, false, true)
}

// SendDelete queues a single delete.
func (c *Conn) SendDelete(queryID, objectID string) error {
	return c.SendDeletes(queryID, []string{objectID})
}

// Queue queues a response to a client request from inside the registry's
// exclusive section. Like SendUpdates it leaves deregistration to the
// caller.
func (c *Conn) Queue(msg any) error {
	return c.enqueue(msg)
}

// SendReply queues a response to a client request. Unlike the broker-facing
// methods it must not be called with the registry held: on failure the
// connection is closed and deregistered before SendReply returns.
func (c *Conn) SendReply(msg any) error {
	if err := c.enqueue(msg); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Close kills the connection, deregisters it, and closes the transport.
// Safe to call more than once.
func (c *Conn) Close() error {
	c.markDead(ErrClosed)

	var err error
	c.teardown.Do(func() {
		if c.registry != nil {
			c.registry.Unregister(c.id)
		}
		err = c.transport.Close()
		slog.Debug("connection closed", "connection_id", c.id, "cause", c.Err())
	})
	return err
}

// enqueue adds msg to the outbox without blocking.
func (c *Conn) enqueue(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dead {
		return ErrClosed
	}
	select {
	case c.outbox <- msg:
		return nil
	default:
	}

	c.dead = true
	c.cause = ErrOutboxFull
	close(c.done)
	slog.Warn("outbox full, dropping connection", "connection_id", c.id, "outbox_size", c.cfg.OutboxSize)

	// Teardown takes the registry lock, which the caller may hold.
	go c.Close()
	return ErrOutboxFull
}

// markDead records the first cause of death. Returns false if already dead.
func (c *Conn) markDead(cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dead {
		return false
	}
	c.dead = true
	c.cause = cause
	close(c.done)
	return true
}

func (c *Conn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case <-ctx.Done():
			c.Close()
			return

		case msg := <-c.outbox:
			if err := c.write(ctx, msg); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			if err := c.write(ctx, PingMessage{Type: TypePing, ConnectionID: c.id}); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Conn) write(ctx context.Context, msg any) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return c.transport.WriteJSON(writeCtx, msg)
}

// fail handles a transport error: the connection dies and is deregistered
// before fail returns.
func (c *Conn) fail(err error) {
	if c.markDead(err) {
		slog.Info("send failed, dropping connection", "connection_id", c.id, "error", err)
	}
	c.Close()
}
