package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/techscreen/internal/domain"
)

// Sink receives events for one connection. Send must not block.
type Sink interface {
	Send(event domain.Event)
}

// Hub tracks which connections watch which session and implements the
// interview Emitter on top of a Broker.
type Hub struct {
	broker Broker
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[Sink]struct{}
}

// NewHub creates a Hub and subscribes it to broker.
func NewHub(broker Broker, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		broker:  broker,
		logger:  logger,
		clients: make(map[string]map[Sink]struct{}),
	}
	broker.Subscribe(h.Deliver)
	return h
}

// Emit publishes event to every instance through the broker.
func (h *Hub) Emit(ctx context.Context, event domain.Event) error {
	return h.broker.Publish(ctx, event)
}

// Deliver hands event to the local connections watching its session.
func (h *Hub) Deliver(event domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sink := range h.clients[event.SessionID] {
		sink.Send(event)
	}
}

// Register subscribes sink to sessionID.
func (h *Hub) Register(sessionID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[sessionID]; !exists {
		h.clients[sessionID] = make(map[Sink]struct{})
	}
	h.clients[sessionID][sink] = struct{}{}
	h.logger.Debug("Relay client registered", "session_id", sessionID, "clients", len(h.clients[sessionID]))
}

// Unregister removes sink from sessionID.
func (h *Hub) Unregister(sessionID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sinks, ok := h.clients[sessionID]
	if !ok {
		return
	}
	if _, exists := sinks[sink]; exists {
		delete(sinks, sink)
		if len(sinks) == 0 {
			delete(h.clients, sessionID)
		}
		h.logger.Debug("Relay client unregistered", "session_id", sessionID)
	}
}

// Count returns the number of local connections watching sessionID.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}
