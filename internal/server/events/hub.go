// Package events pushes application state changes to connected WebSocket
// clients.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/apigraph/internal/logger"
)

// WSConn is an interface for WebSocket connections
// This allows us to avoid importing gorilla/websocket in the hub
type WSConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type client struct {
	conn    WSConn
	pattern Pattern
	writeMu sync.Mutex // WebSocket connections allow one writer
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub fans events out to registered clients.
type Hub struct {
	clients   map[string]*client
	mu        sync.RWMutex
	eventChan chan Event
	emitMu    sync.RWMutex
	stopped   bool
	logger    *slog.Logger
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewHub creates a hub. Call Start before emitting events.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{
		clients:   make(map[string]*client),
		eventChan: make(chan Event, 1000), // Buffered to avoid blocking state updates
		logger:    log,
	}
}

// Start begins delivering emitted events.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.processEvents()
}

// Stop drains pending events and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.emitMu.Lock()
		h.stopped = true
		close(h.eventChan)
		h.emitMu.Unlock()

		h.wg.Wait()
		h.Close()
	})
}

// Emit queues an event for delivery. Events are dropped when the queue is
// full or the hub has stopped.
func (h *Hub) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.emitMu.RLock()
	defer h.emitMu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.eventChan <- event:
	default:
		h.logger.Warn("event queue full, dropping event", "event", event.ID, "type", event.Type)
	}
}

func (h *Hub) processEvents() {
	defer h.wg.Done()

	for event := range h.eventChan {
		h.Broadcast(event)
	}
}

// Register adds a connection and returns its client id.
func (h *Hub) Register(conn WSConn, pattern Pattern) string {
	id := uuid.New().String()

	h.mu.Lock()
	h.clients[id] = &client{conn: conn, pattern: pattern}
	h.mu.Unlock()

	h.logger.Info("websocket client registered", "client", id)
	return id
}

// Unregister closes and removes a connection.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		h.logger.Info("websocket client unregistered", "client", id)
	}
}

// Broadcast sends event to every matching client now. Connections that fail
// to receive it are dropped.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	targets := make(map[string]*client, len(h.clients))
	for id, c := range h.clients {
		if c.pattern.Matches(event) {
			targets[id] = c
		}
	}
	h.mu.RUnlock()

	for id, c := range targets {
		if err := c.send(event); err != nil {
			h.logger.Warn("websocket send failed", "client", id, "error", err)
			h.Unregister(id)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all WebSocket connections
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		c.conn.Close()
	}
	h.clients = make(map[string]*client)
}
