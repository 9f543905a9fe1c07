package device

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides entity management with caching and thread safety.
// It wraps a Repository, adds an in-memory cache for fast lookups and
// publishes an Event to every subscriber after each successful mutation.
//
// The cache is populated on startup via RefreshCache() and kept in sync by
// the mutating operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[Key]*Entity
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time

	handlers   []EventHandler
	handlersMu sync.RWMutex
}

// NewRegistry creates a new entity registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[Key]*Entity),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Subscribe registers a handler for every subsequent event.
func (r *Registry) Subscribe(h EventHandler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers = append(r.handlers, h)
}

// RefreshCache reloads all entities from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	entities, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[Key]*Entity, len(entities))
	for i := range entities {
		e := entities[i]
		r.cache[e.Key] = e.DeepCopy()
	}

	r.logger.Info("entity cache refreshed", "count", len(entities))
	return nil
}

// Get retrieves an entity by key. Returns ErrEntityNotFound if it does not
// exist. The returned entity is a deep copy.
func (r *Registry) Get(ctx context.Context, key Key) (*Entity, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[key]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	e, err := r.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[key] = e.DeepCopy()
	r.cacheMu.Unlock()

	return e, nil
}

// List returns every cached entity ordered by device and unit.
func (r *Registry) List(_ context.Context) []Entity {
	r.cacheMu.RLock()
	entities := make([]Entity, 0, len(r.cache))
	for _, e := range r.cache {
		entities = append(entities, *e.DeepCopy())
	}
	r.cacheMu.RUnlock()

	slices.SortFunc(entities, func(a, b Entity) int {
		return cmp.Or(cmp.Compare(a.DeviceID, b.DeviceID), cmp.Compare(a.Unit, b.Unit))
	})
	return entities
}

// Count returns the number of cached entities.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Create persists a new entity and caches it.
// Returns ErrEntityExists when the key is already registered.
func (r *Registry) Create(ctx context.Context, e *Entity) error {
	r.cacheMu.RLock()
	_, exists := r.cache[e.Key]
	r.cacheMu.RUnlock()
	if exists {
		return ErrEntityExists
	}

	if err := r.repo.Create(ctx, e); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[e.Key] = e.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("entity created", "entity", e.Key.String(), "type", e.Category.Name, "name", e.Name)
	r.emit(Event{Type: EventCreated, Entity: *e.DeepCopy(), At: e.CreatedAt})
	return nil
}

// UpdateState writes a new value for an entity and stamps its last-update
// time with the current time. When logChange is set the value is also appended to the change log.
func (r *Registry) UpdateState(ctx context.Context, key Key, state State, logChange bool) error {
	return r.UpdateStateAt(ctx, key, state, r.now(), logChange)
}

// UpdateStateAt writes a new state with at as the entity's last-update
// time, normally the event time the gateway reported. A zero at leaves the
// last-update time as it was.
func (r *Registry) UpdateStateAt(ctx context.Context, key Key, state State, at time.Time, logChange bool) error {
	if !at.IsZero() {
		at = at.UTC()
	}
	if err := r.repo.UpdateState(ctx, key, state, at, logChange); err != nil {
		return err
	}

	now := r.now().UTC()
	updated, err := r.mutateCached(ctx, key, func(e *Entity) {
		e.State = state
		if !at.IsZero() {
			lastUpdate := at
			e.LastUpdate = &lastUpdate
		}
		e.UpdatedAt = now
	})
	if err != nil {
		return err
	}

	stamp := at
	if stamp.IsZero() {
		stamp = now
	}
	r.logger.Debug("entity updated", "entity", key.String(), "n_value", state.NValue, "s_value", state.SValue)
	r.emit(Event{Type: EventUpdated, Entity: *updated, LogChange: logChange, At: stamp})
	return nil
}

// Touch refreshes an entity's last-update time without changing its value.
func (r *Registry) Touch(ctx context.Context, key Key, at time.Time) error {
	at = at.UTC()
	if err := r.repo.Touch(ctx, key, at); err != nil {
		return err
	}

	updated, err := r.mutateCached(ctx, key, func(e *Entity) {
		e.LastUpdate = &at
		e.UpdatedAt = at
	})
	if err != nil {
		return err
	}

	r.emit(Event{Type: EventTouched, Entity: *updated, At: at})
	return nil
}

// GetLog returns an entity's change log, newest first.
// limit defaults to 50 and is capped at 200.
func (r *Registry) GetLog(ctx context.Context, key Key, limit int) ([]LogEntry, error) {
	if _, err := r.Get(ctx, key); err != nil {
		return nil, err
	}
	return r.repo.ListLog(ctx, key, clampLogLimit(limit))
}

// mutateCached applies fn to the cached entity, reloading it from the
// repository first if it is not cached. It returns a copy of the result.
func (r *Registry) mutateCached(ctx context.Context, key Key, fn func(*Entity)) (*Entity, error) {
	r.cacheMu.Lock()
	cached, ok := r.cache[key]
	if ok {
		fn(cached)
		cpy := cached.DeepCopy()
		r.cacheMu.Unlock()
		return cpy, nil
	}
	r.cacheMu.Unlock()

	e, err := r.repo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reloading entity %s: %w", key, err)
	}
	r.cacheMu.Lock()
	r.cache[key] = e.DeepCopy()
	r.cacheMu.Unlock()
	return e, nil
}

func (r *Registry) emit(ev Event) {
	r.handlersMu.RLock()
	handlers := slices.Clone(r.handlers)
	r.handlersMu.RUnlock()

	for _, h := range handlers {
		r.dispatch(h, ev)
	}
}

func (r *Registry) dispatch(h EventHandler, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("entity event handler panicked", "entity", ev.Entity.Key.String(), "event", string(ev.Type), "panic", rec)
		}
	}()
	h(ev)
}
