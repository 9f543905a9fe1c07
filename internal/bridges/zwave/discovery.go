package zwave

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
)

// DiscoveryOutcome describes what a discovery message did to the table.
type DiscoveryOutcome int

const (
	// OutcomeIgnored means the semantic type is not supported.
	OutcomeIgnored DiscoveryOutcome = iota
	// OutcomeAlreadyMapped means the state topic was already discovered.
	OutcomeAlreadyMapped
	// OutcomeEndpointCreated means a new endpoint was allocated.
	OutcomeEndpointCreated
	// OutcomeAttributeCreated means a device-level attribute was recorded.
	OutcomeAttributeCreated
)

func (o DiscoveryOutcome) String() string {
	switch o {
	case OutcomeAlreadyMapped:
		return "already_mapped"
	case OutcomeEndpointCreated:
		return "endpoint_created"
	case OutcomeAttributeCreated:
		return "attribute_created"
	default:
		return "ignored"
	}
}

// DiscoveryResult reports the effect of one discovery message.
type DiscoveryResult struct {
	Outcome       DiscoveryOutcome
	Target        Target
	TypeName      string
	EntityCreated bool
}

// DiscoveryOptions configures a Discovery engine.
type DiscoveryOptions struct {
	Store    ConfigStore
	Host     Host
	Registry *Registry // Defaults to DefaultRegistry()
	Logger   Logger
}

// Discovery owns the mapping table. It is the only component that mutates
// it; every mutation is persisted through the ConfigStore before it becomes
// visible to readers.
type Discovery struct {
	mu    sync.RWMutex
	table *Table

	store    ConfigStore
	host     Host
	registry *Registry
	logger   Logger
}

// NewDiscovery creates a discovery engine with an empty table. Call Load to
// restore the persisted configuration.
func NewDiscovery(opts DiscoveryOptions) (*Discovery, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("config store is required")
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
	return &Discovery{
		table:    NewTable(),
		store:    opts.Store,
		host:     opts.Host,
		registry: opts.Registry,
		logger:   opts.Logger,
	}, nil
}

// Load replaces the in-memory table with the persisted one.
func (d *Discovery) Load(ctx context.Context) error {
	table, err := d.store.LoadTable(ctx)
	if err != nil {
		return fmt.Errorf("loading zwave configuration: %w", err)
	}
	d.mu.Lock()
	d.table = table
	d.mu.Unlock()

	d.logger.Info("zwave configuration loaded",
		"devices", len(table.devices),
		"topics", table.IndexSize(),
	)
	return nil
}

// Apply processes one discovery message. Mapping and persistence happen
// together or not at all; host entity creation follows and its failure is
// logged without undoing the mapping.
func (d *Discovery) Apply(ctx context.Context, topic string, payload []byte) (DiscoveryResult, error) {
	reported, typeName, err := ParseDiscoveryTopic(topic)
	if err != nil {
		return DiscoveryResult{}, err
	}
	msg, err := ParseDiscoveryMessage(payload)
	if err != nil {
		return DiscoveryResult{}, err
	}

	result, spec, err := d.applyLocked(ctx, reported, typeName, msg)
	if err != nil || result.Outcome != OutcomeEndpointCreated {
		return result, err
	}

	if err := d.host.CreateEntity(ctx, spec); err != nil {
		d.logger.Error("creating host entity failed",
			"device", spec.Ref.DeviceID,
			"unit", spec.Ref.Unit,
			"category", spec.Category.String(),
			"error", err,
		)
		return result, nil
	}
	result.EntityCreated = true
	return result, nil
}

func (d *Discovery) applyLocked(ctx context.Context, reported, typeName string, msg DiscoveryMessage) (DiscoveryResult, EntitySpec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stateTopic := msg.StateTopic()
	if existing, ok := d.table.Lookup(stateTopic); ok {
		if existing.DeviceID != msg.DeviceID {
			return DiscoveryResult{}, EntitySpec{}, fmt.Errorf("%w: %s is mapped to %s", ErrTopicConflict, stateTopic, existing.DeviceID)
		}
		d.logger.Debug("discovery already mapped", "device", msg.DeviceID, "topic", stateTopic)
		return DiscoveryResult{Outcome: OutcomeAlreadyMapped, Target: existing, TypeName: typeName}, EntitySpec{}, nil
	}

	semType, isType := d.registry.Lookup(typeName)
	_, isAttr := d.registry.Attribute(typeName)
	if !isType && !isAttr {
		d.logger.Info("discovery for unsupported type ignored",
			"device", msg.DeviceID,
			"type", typeName,
			"reported_type", reported,
		)
		return DiscoveryResult{Outcome: OutcomeIgnored, TypeName: typeName}, EntitySpec{}, nil
	}

	next := d.table.Clone()
	dev := next.ensureDevice(msg.DeviceID)

	var result DiscoveryResult
	if isType {
		unit := dev.NextUnit()
		dev.Endpoints[unit] = &Endpoint{
			Unit:            unit,
			MappedType:      typeName,
			ReportedType:    reported,
			Topics:          maps.Clone(msg.Topics),
			PayloadOn:       msg.PayloadOn,
			PayloadOff:      msg.PayloadOff,
			OnCommandType:   msg.OnCommandType,
			BrightnessScale: msg.BrightnessScale,
		}
		result = DiscoveryResult{
			Outcome:  OutcomeEndpointCreated,
			Target:   Target{DeviceID: msg.DeviceID, Unit: unit},
			TypeName: typeName,
		}
	} else {
		attr, ok := dev.Attributes[typeName]
		if !ok {
			attr = &Attribute{Name: typeName, Topics: make(map[string]string)}
			dev.Attributes[typeName] = attr
		}
		attr.ReportedType = reported
		maps.Copy(attr.Topics, msg.Topics)
		result = DiscoveryResult{
			Outcome:  OutcomeAttributeCreated,
			Target:   Target{DeviceID: msg.DeviceID, Attribute: typeName},
			TypeName: typeName,
		}
	}

	for _, topic := range next.indexTopics(msg.Topics, result.Target) {
		d.logger.Warn("state topic already mapped elsewhere",
			"device", msg.DeviceID,
			"topic", topic,
		)
	}

	if err := d.store.SaveTable(ctx, next); err != nil {
		return DiscoveryResult{}, EntitySpec{}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	d.table = next

	d.logger.Info("zwave discovery mapped",
		"device", msg.DeviceID,
		"type", typeName,
		"unit", result.Target.Unit,
		"attribute", result.Target.Attribute,
		"topic", stateTopic,
	)

	if !isType {
		return result, EntitySpec{}, nil
	}
	spec := EntitySpec{
		Ref:         EntityRef{DeviceID: msg.DeviceID, Unit: result.Target.Unit},
		Category:    semType.Category(),
		Name:        msg.Name,
		Description: msg.Description(),
	}
	return result, spec, nil
}

// Resolve looks a topic up in the index.
func (d *Discovery) Resolve(topic string) (Target, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.table.Lookup(topic)
}

// Endpoint returns a copy of the endpoint addressed by ref.
func (d *Discovery) Endpoint(ref EntityRef) (Endpoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ep, err := d.table.Endpoint(ref)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %s", err, ref)
	}
	return ep, nil
}

// DeviceEndpoints returns copies of all endpoints of a device, by unit.
func (d *Discovery) DeviceEndpoints(deviceID string) ([]Endpoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.table.Device(deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	out := make([]Endpoint, 0, len(dev.Endpoints))
	for _, u := range dev.Units() {
		out = append(out, *dev.Endpoints[u].clone())
	}
	return out, nil
}

// Snapshot returns a deep copy of the current table.
func (d *Discovery) Snapshot() *Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.table.Clone()
}

// IsMappingMiss reports whether err means a topic, device, endpoint or type
// could not be resolved.
func IsMappingMiss(err error) bool {
	return errors.Is(err, ErrUnknownTopic) ||
		errors.Is(err, ErrUnknownDevice) ||
		errors.Is(err, ErrUnknownEndpoint) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrUnmappedAttribute)
}
