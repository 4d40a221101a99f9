package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
	"github.com/coder/websocket"
)

const (
	clientQueueSize = 64
	writeTimeout    = 10 * time.Second
)

// frameWriter is the part of websocket.Conn a client writes through.
type frameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// client queues outbound events for one websocket connection and writes them
// from a single goroutine, so a slow socket never blocks the emitter.
type client struct {
	conn   frameWriter
	queue  chan domain.Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newClient(conn frameWriter, logger *slog.Logger) *client {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:   conn,
		queue:  make(chan domain.Event, clientQueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	c.wg.Add(1)
	go c.writeLoop()
	return c
}

// Send queues event. When the queue is full the oldest event is dropped.
func (c *client) Send(event domain.Event) {
	if c.ctx.Err() != nil {
		return
	}

	select {
	case c.queue <- event:
		return
	default:
	}

	c.logger.Warn("Relay queue full, dropping oldest event", "session_id", event.SessionID)
	select {
	case <-c.queue:
	default:
	}
	select {
	case c.queue <- event:
	default:
		c.logger.Warn("Relay queue still full, dropping event",
			"session_id", event.SessionID,
			"event", string(event.Name))
	}
}

func (c *client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case event := <-c.queue:
			if err := c.write(event); err != nil {
				c.logger.Debug("Relay write failed", "session_id", event.SessionID, "error", err)
				c.cancel()
				return
			}
		}
	}
}

func (c *client) write(event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// close stops the writer. Events still queued are dropped.
func (c *client) close() {
	c.cancel()
	c.wg.Wait()
}
