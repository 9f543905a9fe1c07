package broker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/metrics"
)

// ClientInfo describes one connected gateway client.
type ClientInfo struct {
	Key             string    `json:"key"`
	SessionID       string    `json:"session_id"`
	ClientID        string    `json:"client_id"`
	ProtocolVersion byte      `json:"protocol_version"`
	ConnectedAt     time.Time `json:"connected_at"`
}

// ClientSet is the set of sessions that completed CONNECT, keyed by the
// remote "host:port". It is the outbound side of the broker: commands are
// broadcast to every member.
type ClientSet struct {
	mu      sync.RWMutex
	clients map[string]*Session
}

// NewClientSet returns an empty set.
func NewClientSet() *ClientSet {
	return &ClientSet{clients: make(map[string]*Session)}
}

func (c *ClientSet) add(s *Session) {
	c.mu.Lock()
	c.clients[s.Key()] = s
	n := len(c.clients)
	c.mu.Unlock()
	metrics.BrokerConnections.Set(float64(n))
}

// remove drops s if it is still the session registered under its key; a
// reconnect from the same address may already have replaced it.
func (c *ClientSet) remove(s *Session) {
	c.mu.Lock()
	if cur, ok := c.clients[s.Key()]; ok && cur == s {
		delete(c.clients, s.Key())
	}
	n := len(c.clients)
	c.mu.Unlock()
	metrics.BrokerConnections.Set(float64(n))
}

// Len returns the number of active clients.
func (c *ClientSet) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// Contains reports whether key is in the set.
func (c *ClientSet) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.clients[key]
	return ok
}

// List returns the active clients sorted by key.
func (c *ClientSet) List() []ClientInfo {
	c.mu.RLock()
	out := make([]ClientInfo, 0, len(c.clients))
	for _, s := range c.clients {
		out = append(out, s.Info())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Broadcast sends a QoS 1 PUBLISH to every active client. It returns how
// many clients the packet was written to; a client that fails is skipped
// and its error, wrapping ErrClientNotConnected, is joined into the result.
func (c *ClientSet) Broadcast(topic string, payload []byte) (int, error) {
	c.mu.RLock()
	targets := make([]*Session, 0, len(c.clients))
	for _, s := range c.clients {
		targets = append(targets, s)
	}
	c.mu.RUnlock()

	var (
		delivered int
		errs      []error
	)
	for _, s := range targets {
		if err := s.Publish(topic, payload); err != nil {
			if !errors.Is(err, ErrClientNotConnected) {
				err = fmt.Errorf("%w: %w", ErrClientNotConnected, err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Key(), err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}
