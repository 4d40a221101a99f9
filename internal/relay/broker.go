// Package relay fans interview events out to the websocket clients watching a session.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/techscreen/internal/domain"
	"github.com/go-redis/redis/v8"
)

// DefaultChannel is the Redis channel events travel on.
const DefaultChannel = "techscreen:events"

// Broker carries events between the instance that emits them and every
// instance holding a connection for the session.
type Broker interface {
	Publish(ctx context.Context, event domain.Event) error
	// Subscribe registers handler for every published event. handler must not block.
	Subscribe(handler func(domain.Event))
	Close() error
}

// LocalBroker delivers events within the process.
type LocalBroker struct {
	mu       sync.RWMutex
	handlers []func(domain.Event)
}

// NewLocalBroker creates an in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

// Publish hands event to every subscriber.
func (b *LocalBroker) Publish(_ context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
	return nil
}

// Subscribe registers handler.
func (b *LocalBroker) Subscribe(handler func(domain.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Close is a no-op.
func (b *LocalBroker) Close() error {
	return nil
}

// RedisBroker publishes events on a Redis pub/sub channel so that several
// server instances can serve the same session.
type RedisBroker struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBroker connects to addr and verifies the connection.
func NewRedisBroker(ctx context.Context, addr, channel string, logger *slog.Logger) (*RedisBroker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = DefaultChannel
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	logger.Info("Connected to Redis relay broker", "address", addr, "channel", channel)
	return &RedisBroker{
		client:  client,
		channel: channel,
		logger:  logger,
		ctx:     subCtx,
		cancel:  cancel,
	}, nil
}

// Publish encodes event as JSON and publishes it.
func (b *RedisBroker) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe starts a listener that feeds every event on the channel to handler.
func (b *RedisBroker) Subscribe(handler func(domain.Event)) {
	pubsub := b.client.Subscribe(b.ctx, b.channel)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if err := pubsub.Close(); err != nil {
				b.logger.Debug("Failed to close redis subscription", "error", err)
			}
		}()

		ch := pubsub.Channel()
		for {
			select {
			case <-b.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handleMessage(msg, handler)
			}
		}
	}()
}

func (b *RedisBroker) handleMessage(msg *redis.Message, handler func(domain.Event)) {
	event, err := decodeEvent(msg.Payload)
	if err != nil {
		b.logger.Warn("Dropping malformed relay message", "channel", msg.Channel, "error", err)
		return
	}
	handler(event)
}

// Close stops listeners and closes the client.
func (b *RedisBroker) Close() error {
	b.cancel()
	b.wg.Wait()
	if err := b.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

var errMissingSession = errors.New("event without session_id")

func decodeEvent(payload string) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return event, fmt.Errorf("decode event: %w", err)
	}
	if event.SessionID == "" {
		return event, errMissingSession
	}
	return event, nil
}

var (
	_ Broker = (*LocalBroker)(nil)
	_ Broker = (*RedisBroker)(nil)
)
