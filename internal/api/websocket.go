package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-zwave/internal/auth"
	"github.com/nerrad567/gray-logic-zwave/internal/device"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeGet         = "get"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256
	wsLookupTimeout  = 5 * time.Second
)

// WSMessage is a message sent to a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a message received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
// Entities are "device_id/unit" strings; without any, a subscription
// covers every entity.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Entities []string `json:"entities,omitempty"`
}

// WSGetPayload is the payload of a get request.
type WSGetPayload struct {
	Entity string `json:"entity"`
}

// entityLookup reads one entity. Satisfied by (*device.Registry).Get.
type entityLookup func(ctx context.Context, key device.Key) (*device.Entity, error)

// WSClient is one connected WebSocket caller.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	lookup  entityLookup
	subject string
	role    auth.Role

	mu  sync.RWMutex
	sub subscription
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers authenticate with a token, not cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades an authenticated request. The route sits behind
// authMiddleware, which accepts the token as a "token" query parameter here.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeUnauthorized(w, "token is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		lookup:  s.registry.Get,
		subject: claims.Subject,
		role:    claims.Role,
		sub:     newSubscription(),
	}
	s.hub.Register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // read error surfaces below
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Any traffic counts as liveness; browsers do not always answer pings.
		c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // read error surfaces above
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error checked below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error checked below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(req)
	case WSTypeGet:
		c.handleGet(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

// handleSubscription adds to or removes from the client's subscription.
// Entity refs are validated before anything changes.
func (c *WSClient) handleSubscription(req wsRequest) {
	var p WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.sendError(req.ID, "invalid "+req.Type+" payload")
		return
	}
	keys := make([]device.Key, 0, len(p.Entities))
	for _, ref := range p.Entities {
		key, err := parseEntityRef(ref)
		if err != nil {
			c.sendError(req.ID, err.Error())
			return
		}
		keys = append(keys, key)
	}

	c.mu.Lock()
	for _, ch := range p.Channels {
		if req.Type == WSTypeSubscribe {
			c.sub.channels[ch] = struct{}{}
		} else {
			delete(c.sub.channels, ch)
		}
	}
	for _, key := range keys {
		if req.Type == WSTypeSubscribe {
			c.sub.entities[key] = struct{}{}
		} else {
			delete(c.sub.entities, key)
		}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket "+req.Type, "subject", c.subject, "channels", p.Channels, "entities", p.Entities)
	c.reply(req.ID, WSTypeResponse, map[string]any{
		req.Type + "d": p.Channels,
		"entities":     p.Entities,
	})
}

// handleGet replies with the current value of one entity.
func (c *WSClient) handleGet(req wsRequest) {
	var p WSGetPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.sendError(req.ID, "invalid get payload")
		return
	}
	key, err := parseEntityRef(p.Entity)
	if err != nil {
		c.sendError(req.ID, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsLookupTimeout)
	defer cancel()
	e, err := c.lookup(ctx, key)
	switch {
	case errors.Is(err, device.ErrEntityNotFound):
		c.sendError(req.ID, "entity not found")
	case err != nil:
		c.sendError(req.ID, "failed to read entity")
	default:
		c.reply(req.ID, WSTypeResponse, e)
	}
}

func (c *WSClient) wants(channel string, key device.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub.matches(channel, key)
}

// trySend queues data without blocking. Sends racing a disconnect or
// hitting a full buffer are dropped.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel after Unregister
	}()
	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
