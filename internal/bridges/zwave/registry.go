package zwave

import "sort"

// SemanticType is one entry of the type registry: what kind of host entity
// an endpoint becomes and how its state values are decoded.
type SemanticType interface {
	// Name is the discovery type name, e.g. "dimmer".
	Name() string

	// Category is the host entity category created for the endpoint.
	Category() Category

	// Decode turns an incoming value into a host mutation based on the
	// entity's current state.
	Decode(ep Endpoint, cur EntityState, v Value) (Decision, error)
}

// CommandEncoder is implemented by semantic types that accept host commands.
type CommandEncoder interface {
	// Encode returns the wire payload for cmd.
	Encode(ep Endpoint, cmd Command) ([]byte, error)
}

// AttributeHandler applies a device-level attribute to one endpoint's entity.
type AttributeHandler interface {
	Name() string
	Apply(cur EntityState, v Value) (Decision, error)
}

// builtinTypes is the canonical list of endpoint-level semantic types.
var builtinTypes = []SemanticType{
	// ── Binary sensors / switches ────────────────────────────
	binaryType{name: "any", category: NamedCategory("Contact")},
	binaryType{name: "home_security", category: NamedCategory("Contact")},
	switchType{binaryType{name: "switch", category: NamedCategory("Switch")}},

	// ── Lighting ─────────────────────────────────────────────
	dimmerType{},
	colorDimmerType{},

	// ── Metering ─────────────────────────────────────────────
	meterType{name: "electric_a_value", category: NamedCategory("Current/Ampere"), format: formatCurrent},
	meterType{name: "electric_v_value", category: NamedCategory("Voltage"), format: formatRaw},
	meterType{name: "electric_w_value", category: NamedCategory("Usage"), format: formatUsage},
	meterType{name: "electric_kwh_value", category: NumericCategory("Counter", 113, 0, 0), format: formatEnergy},

	// ── Central scene buttons ────────────────────────────────
	sceneType{name: "scene_state_scene_001"},
	sceneType{name: "scene_state_scene_002"},
	sceneType{name: "scene_state_scene_003"},
	sceneType{name: "scene_state_scene_004"},
	sceneType{name: "scene_state_scene_005"},
	sceneType{name: "scene_state_scene_006"},
	sceneType{name: "scene_state_scene_007"},
	sceneType{name: "scene_state_scene_008"},
}

// builtinAttributes are the device-level attributes with special handling.
var builtinAttributes = []AttributeHandler{
	batteryHandler{},
}

// Registry maps semantic type names to their descriptors. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	types      map[string]SemanticType
	attributes map[string]AttributeHandler
}

var defaultRegistry = NewRegistry(builtinTypes, builtinAttributes)

// DefaultRegistry returns the registry of all built-in semantic types.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry builds a registry from the given types and attribute handlers.
// Later entries replace earlier ones with the same name.
func NewRegistry(types []SemanticType, attributes []AttributeHandler) *Registry {
	r := &Registry{
		types:      make(map[string]SemanticType, len(types)),
		attributes: make(map[string]AttributeHandler, len(attributes)),
	}
	for _, t := range types {
		r.types[t.Name()] = t
	}
	for _, a := range attributes {
		r.attributes[a.Name()] = a
	}
	return r
}

// Lookup returns the endpoint-level semantic type with the given name.
func (r *Registry) Lookup(name string) (SemanticType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Attribute returns the device-level attribute handler with the given name.
func (r *Registry) Attribute(name string) (AttributeHandler, bool) {
	a, ok := r.attributes[name]
	return a, ok
}

// Encoder returns the command encoder for a semantic type, if it has one.
func (r *Registry) Encoder(name string) (CommandEncoder, bool) {
	t, ok := r.types[name]
	if !ok {
		return nil, false
	}
	enc, ok := t.(CommandEncoder)
	return enc, ok
}

// Names returns all endpoint-level type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
