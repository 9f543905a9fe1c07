package zwave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// EntityUpdate records the host mutation applied to one entity.
type EntityUpdate struct {
	Ref    EntityRef
	Action Action
}

// SyncResult reports the effect of one state message.
type SyncResult struct {
	Target  Target
	Stale   bool
	Updates []EntityUpdate
}

// SynchronizerOptions configures a Synchronizer.
type SynchronizerOptions struct {
	Discovery *Discovery
	Host      Host
	Registry  *Registry // Defaults to DefaultRegistry()
	Logger    Logger
	Now       func() time.Time
}

// Synchronizer applies state messages to host entities.
type Synchronizer struct {
	discovery *Discovery
	host      Host
	registry  *Registry
	logger    Logger
	now       func() time.Time

	// applyMu serialises read-decode-write cycles against the host so two
	// connections cannot interleave updates to the same entity.
	applyMu sync.Mutex
}

// NewSynchronizer creates a state synchronisation engine.
func NewSynchronizer(opts SynchronizerOptions) (*Synchronizer, error) {
	if opts.Discovery == nil {
		return nil, fmt.Errorf("discovery is required")
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		discovery: opts.Discovery,
		host:      opts.Host,
		registry:  opts.Registry,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

// Apply processes one state message.
func (s *Synchronizer) Apply(ctx context.Context, topic string, payload []byte) (SyncResult, error) {
	target, ok := s.discovery.Resolve(topic)
	if !ok {
		return SyncResult{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	msg, err := ParseStateMessage(payload)
	if err != nil {
		return SyncResult{Target: target}, err
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if target.IsAttribute() {
		return s.applyAttribute(ctx, target, msg)
	}
	return s.applyEndpoint(ctx, target, msg)
}

func (s *Synchronizer) applyEndpoint(ctx context.Context, target Target, msg StateMessage) (SyncResult, error) {
	result := SyncResult{Target: target}
	ref := EntityRef{DeviceID: target.DeviceID, Unit: target.Unit}

	ep, err := s.discovery.Endpoint(ref)
	if err != nil {
		return result, err
	}
	semType, ok := s.registry.Lookup(ep.MappedType)
	if !ok {
		return result, fmt.Errorf("%w: %s on %s", ErrUnknownType, ep.MappedType, ref)
	}

	cur, err := s.host.EntityState(ctx, ref)
	if err != nil {
		return result, fmt.Errorf("reading entity %s: %w", ref, err)
	}

	if msg.HasTime && msg.Time.Before(cur.LastUpdate) {
		s.logger.Debug("discarding out of date event",
			"entity", ref.String(),
			"event_time", msg.Time,
			"last_update", cur.LastUpdate,
		)
		result.Stale = true
		return result, nil
	}

	if !msg.Value.IsSet() {
		s.logger.Debug("state message without value", "entity", ref.String(), "type", ep.MappedType)
		return result, nil
	}

	decision, err := semType.Decode(ep, cur, msg.Value)
	if err != nil {
		return result, fmt.Errorf("decoding %s for %s: %w", ep.MappedType, ref, err)
	}
	if decision.Action == ActionNone {
		s.logger.Debug("state value not translated",
			"entity", ref.String(),
			"type", ep.MappedType,
			"value", msg.Value.String(),
		)
		return result, nil
	}

	at := s.now()
	if msg.HasTime {
		at = msg.Time
	}
	if err := s.commit(ctx, ref, decision, at); err != nil {
		return result, err
	}
	result.Updates = append(result.Updates, EntityUpdate{Ref: ref, Action: decision.Action})
	return result, nil
}

// applyAttribute fans a device-level value out to every endpoint of the
// device. Attribute updates do not move the entity's last-update time.
func (s *Synchronizer) applyAttribute(ctx context.Context, target Target, msg StateMessage) (SyncResult, error) {
	result := SyncResult{Target: target}

	handler, ok := s.registry.Attribute(target.Attribute)
	if !ok {
		return result, fmt.Errorf("%w: %s on %s", ErrUnmappedAttribute, target.Attribute, target.DeviceID)
	}
	if !msg.Value.IsSet() {
		return result, nil
	}
	endpoints, err := s.discovery.DeviceEndpoints(target.DeviceID)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, ep := range endpoints {
		ref := EntityRef{DeviceID: target.DeviceID, Unit: ep.Unit}
		cur, err := s.host.EntityState(ctx, ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("reading entity %s: %w", ref, err))
			continue
		}
		decision, err := handler.Apply(cur, msg.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s for %s: %w", target.Attribute, ref, err))
			continue
		}
		if decision.Action == ActionNone {
			continue
		}
		if err := s.commit(ctx, ref, decision, cur.LastUpdate); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Updates = append(result.Updates, EntityUpdate{Ref: ref, Action: decision.Action})
	}
	return result, errors.Join(errs...)
}

func (s *Synchronizer) commit(ctx context.Context, ref EntityRef, decision Decision, at time.Time) error {
	switch decision.Action {
	case ActionUpdate:
		state := decision.State
		state.LastUpdate = at
		if err := s.host.UpdateEntity(ctx, ref, state, decision.LogChange); err != nil {
			return fmt.Errorf("updating entity %s: %w", ref, err)
		}
		s.logger.Debug("entity updated",
			"entity", ref.String(),
			"numeric", state.Numeric,
			"text", state.Text,
		)
	case ActionTouch:
		if err := s.host.TouchEntity(ctx, ref, at); err != nil {
			return fmt.Errorf("touching entity %s: %w", ref, err)
		}
	}
	return nil
}
