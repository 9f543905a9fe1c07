package zwave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MockHost is an in-memory Host.
type MockHost struct {
	mu       sync.Mutex
	states   map[EntityRef]EntityState
	created  []EntitySpec
	updates  []hostUpdate
	touches  []EntityRef
	createFn func(EntitySpec) error
	readErr  error
}

type hostUpdate struct {
	Ref       EntityRef
	State     EntityState
	LogChange bool
}

func NewMockHost() *MockHost {
	return &MockHost{states: make(map[EntityRef]EntityState)}
}

func (h *MockHost) CreateEntity(_ context.Context, spec EntitySpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.createFn != nil {
		if err := h.createFn(spec); err != nil {
			return err
		}
	}
	h.created = append(h.created, spec)
	if _, ok := h.states[spec.Ref]; !ok {
		h.states[spec.Ref] = EntityState{BatteryLevel: DefaultBatteryLevel}
	}
	return nil
}

func (h *MockHost) EntityState(_ context.Context, ref EntityRef) (EntityState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.readErr != nil {
		return EntityState{}, h.readErr
	}
	s, ok := h.states[ref]
	if !ok {
		return EntityState{}, fmt.Errorf("entity %s not found", ref)
	}
	return s, nil
}

// UpdateEntity stores state as given, LastUpdate included, like the
// registry-backed host.
func (h *MockHost) UpdateEntity(_ context.Context, ref EntityRef, state EntityState, logChange bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.states[ref]; !ok {
		return fmt.Errorf("entity %s not found", ref)
	}
	h.states[ref] = state
	h.updates = append(h.updates, hostUpdate{Ref: ref, State: state, LogChange: logChange})
	return nil
}

func (h *MockHost) TouchEntity(_ context.Context, ref EntityRef, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[ref]
	if !ok {
		return fmt.Errorf("entity %s not found", ref)
	}
	s.LastUpdate = at
	h.states[ref] = s
	h.touches = append(h.touches, ref)
	return nil
}

func (h *MockHost) setState(ref EntityRef, s EntityState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[ref] = s
}

func (h *MockHost) state(ref EntityRef) EntityState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.states[ref]
}

func (h *MockHost) counts() (created, updates, touches int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.created), len(h.updates), len(h.touches)
}

// MemoryStore is an in-memory ConfigStore that keeps the last saved table.
type MemoryStore struct {
	mu      sync.Mutex
	saved   *Table
	saves   int
	saveErr error
	loadErr error
}

func (s *MemoryStore) LoadTable(_ context.Context) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.saved == nil {
		return NewTable(), nil
	}
	return s.saved.Clone(), nil
}

func (s *MemoryStore) SaveTable(_ context.Context, table *Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = table.Clone()
	s.saves++
	return nil
}

// MockPublisher records broadcasts.
type MockPublisher struct {
	mu        sync.Mutex
	published []published
	clients   int
	failures  []error
}

type published struct {
	Topic   string
	Payload string
}

func (p *MockPublisher) Broadcast(topic string, payload []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, published{Topic: topic, Payload: string(payload)})
	return p.clients, errors.Join(p.failures...)
}

func (p *MockPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.published))
	copy(out, p.published)
	return out
}

// discoveryPayload builds a discovery message for tests.
func discoveryPayload(deviceID, name, stateTopic, commandTopic string, extra string) []byte {
	cmd := ""
	if commandTopic != "" {
		cmd = fmt.Sprintf(`,"command_topic":%q`, commandTopic)
	}
	if extra != "" {
		extra = "," + extra
	}
	return fmt.Appendf(nil,
		`{"name":%q,"state_topic":%q%s,"device":{"identifiers":[%q],"manufacturer":"Aeotec","model":"ZW100"}%s}`,
		name, stateTopic, cmd, deviceID, extra)
}

// newTestDiscovery returns a discovery engine over in-memory collaborators.
func newTestDiscovery() (*Discovery, *MockHost, *MemoryStore) {
	host := NewMockHost()
	store := &MemoryStore{}
	d, err := NewDiscovery(DiscoveryOptions{Store: store, Host: host})
	if err != nil {
		panic(err)
	}
	return d, host, store
}

// mustDiscover applies a discovery message and panics on error.
func mustDiscover(d *Discovery, typeName, deviceID, stateTopic, commandTopic, extra string) DiscoveryResult {
	topic := fmt.Sprintf("homeassistant/light/%s/%s/config", deviceID, typeName)
	res, err := d.Apply(context.Background(), topic, discoveryPayload(deviceID, typeName, stateTopic, commandTopic, extra))
	if err != nil {
		panic(err)
	}
	return res
}
