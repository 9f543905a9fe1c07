package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-zwave/internal/device"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/logging"
)

// Event channels clients can subscribe to.
const (
	ChannelEntityCreated = "entity.created"
	ChannelEntityUpdated = "entity.updated"
	ChannelEntityTouched = "entity.touched"
)

// entityEventPayload is the body of an entity.* event.
type entityEventPayload struct {
	Entity    device.Entity `json:"entity"`
	LogChange bool          `json:"log_change"`
}

// Hub fans registry events out to connected WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// Unregister removes a client. The send channel is closed only by the call
// that actually removed it.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends an event about one entity to every client whose
// subscription covers both the channel and the entity. It never blocks;
// a client with a full buffer misses the event.
func (h *Hub) Publish(channel string, key device.Key, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel, key) {
			c.trySend(data)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// broadcastEntityEvent is the registry subscriber feeding the hub.
func (s *Server) broadcastEntityEvent(ev device.Event) {
	s.hub.Publish("entity."+string(ev.Type), ev.Entity.Key, entityEventPayload{
		Entity:    ev.Entity,
		LogChange: ev.LogChange,
	})
}

// subscription is the set of channels and entities a client listens to.
// An empty entity filter matches every entity.
type subscription struct {
	channels map[string]struct{}
	entities map[device.Key]struct{}
}

func newSubscription() subscription {
	return subscription{
		channels: make(map[string]struct{}),
		entities: make(map[device.Key]struct{}),
	}
}

func (s subscription) matches(channel string, key device.Key) bool {
	if _, ok := s.channels[channel]; !ok {
		return false
	}
	if len(s.entities) == 0 {
		return true
	}
	_, ok := s.entities[key]
	return ok
}

// parseEntityRef parses "device_id/unit".
func parseEntityRef(s string) (device.Key, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return device.Key{}, fmt.Errorf("entity %q is not device_id/unit", s)
	}
	unit, err := strconv.Atoi(s[i+1:])
	if err != nil || unit < 1 {
		return device.Key{}, fmt.Errorf("entity %q has an invalid unit", s)
	}
	return device.Key{DeviceID: s[:i], Unit: unit}, nil
}
