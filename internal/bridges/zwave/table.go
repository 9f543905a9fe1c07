package zwave

import (
	"encoding/json"
	"maps"
	"sort"
	"strings"
)

// Topic field names with dedicated meaning.
const (
	FieldStateTopic   = "state_topic"
	FieldCommandTopic = "command_topic"
)

// Endpoint is one unit-numbered facet of a device.
type Endpoint struct {
	Unit            int               `json:"unit"`
	MappedType      string            `json:"mapped_type"`
	ReportedType    string            `json:"reported_type"`
	Topics          map[string]string `json:"topics"`
	PayloadOn       Value             `json:"payload_on,omitempty"`
	PayloadOff      Value             `json:"payload_off,omitempty"`
	OnCommandType   string            `json:"on_command_type,omitempty"`
	BrightnessScale int               `json:"brightness_scale,omitempty"`
}

// StateTopic returns the endpoint's state topic, if any.
func (e Endpoint) StateTopic() string { return e.Topics[FieldStateTopic] }

// CommandTopic returns the endpoint's command topic, if any.
func (e Endpoint) CommandTopic() string { return e.Topics[FieldCommandTopic] }

// OnPayload returns the configured "on" value, defaulting to true.
func (e Endpoint) OnPayload() Value {
	if e.PayloadOn.IsSet() {
		return e.PayloadOn
	}
	return BoolValue(true)
}

// OffPayload returns the configured "off" value, defaulting to false.
func (e Endpoint) OffPayload() Value {
	if e.PayloadOff.IsSet() {
		return e.PayloadOff
	}
	return BoolValue(false)
}

// Scale returns the brightness scale, defaulting to DefaultBrightnessScale.
func (e Endpoint) Scale() int {
	if e.BrightnessScale > 0 {
		return e.BrightnessScale
	}
	return DefaultBrightnessScale
}

func (e *Endpoint) clone() *Endpoint {
	c := *e
	c.Topics = maps.Clone(e.Topics)
	return &c
}

// Attribute is a device-level facet addressed by name, e.g. battery_level.
type Attribute struct {
	Name         string            `json:"name"`
	ReportedType string            `json:"reported_type"`
	Topics       map[string]string `json:"topics"`
}

func (a *Attribute) clone() *Attribute {
	c := *a
	c.Topics = maps.Clone(a.Topics)
	return &c
}

// Device is one gateway node and everything discovered under it.
type Device struct {
	ID         string                `json:"id"`
	Endpoints  map[int]*Endpoint     `json:"endpoints"`
	Attributes map[string]*Attribute `json:"attributes"`
}

func newDevice(id string) *Device {
	return &Device{
		ID:         id,
		Endpoints:  make(map[int]*Endpoint),
		Attributes: make(map[string]*Attribute),
	}
}

// Units returns the device's endpoint numbers in ascending order.
func (d *Device) Units() []int {
	units := make([]int, 0, len(d.Endpoints))
	for u := range d.Endpoints {
		units = append(units, u)
	}
	sort.Ints(units)
	return units
}

// NextUnit returns the number the next endpoint will receive: one more
// than the highest existing unit, starting at 1.
func (d *Device) NextUnit() int {
	next := 1
	for u := range d.Endpoints {
		if u >= next {
			next = u + 1
		}
	}
	return next
}

func (d *Device) clone() *Device {
	c := newDevice(d.ID)
	for u, ep := range d.Endpoints {
		c.Endpoints[u] = ep.clone()
	}
	for name, a := range d.Attributes {
		c.Attributes[name] = a.clone()
	}
	return c
}

// Target is what a topic resolves to: an endpoint (Unit > 0) or a
// device-level attribute (Attribute != "").
type Target struct {
	DeviceID  string
	Unit      int
	Attribute string
}

// IsAttribute reports whether the target is device-level.
func (t Target) IsAttribute() bool { return t.Attribute != "" }

// Table is the device/endpoint/attribute configuration plus the topic
// index derived from it. A Table is not safe for concurrent use; Discovery
// owns the live instance.
type Table struct {
	devices map[string]*Device
	index   map[string]Target
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		devices: make(map[string]*Device),
		index:   make(map[string]Target),
	}
}

// Device returns the device with the given id.
func (t *Table) Device(id string) (*Device, bool) {
	d, ok := t.devices[id]
	return d, ok
}

// Devices returns all devices sorted by id.
func (t *Table) Devices() []*Device {
	out := make([]*Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup resolves a topic through the index.
func (t *Table) Lookup(topic string) (Target, bool) {
	target, ok := t.index[topic]
	return target, ok
}

// IndexSize returns the number of indexed topics.
func (t *Table) IndexSize() int {
	return len(t.index)
}

// Endpoint returns a copy of the endpoint addressed by ref.
func (t *Table) Endpoint(ref EntityRef) (Endpoint, error) {
	d, ok := t.devices[ref.DeviceID]
	if !ok {
		return Endpoint{}, ErrUnknownDevice
	}
	ep, ok := d.Endpoints[ref.Unit]
	if !ok {
		return Endpoint{}, ErrUnknownEndpoint
	}
	return *ep.clone(), nil
}

// AddDevice inserts a device, replacing any device with the same id, and
// indexes its topics. It is used when loading a persisted table.
func (t *Table) AddDevice(d *Device) {
	if d.Endpoints == nil {
		d.Endpoints = make(map[int]*Endpoint)
	}
	if d.Attributes == nil {
		d.Attributes = make(map[string]*Attribute)
	}
	t.devices[d.ID] = d
	t.reindexDevice(d)
}

// ensureDevice returns the device with the given id, creating it if needed.
func (t *Table) ensureDevice(id string) *Device {
	d, ok := t.devices[id]
	if !ok {
		d = newDevice(id)
		t.devices[id] = d
	}
	return d
}

// index inserts every state topic of topics that is not already claimed.
// It reports the topics that were already claimed by a different target.
func (t *Table) indexTopics(topics map[string]string, target Target) []string {
	var conflicts []string
	for field, topic := range topics {
		if !strings.Contains(field, FieldStateTopic) || topic == "" {
			continue
		}
		if existing, ok := t.index[topic]; ok && existing != target {
			conflicts = append(conflicts, topic)
			continue
		}
		t.index[topic] = target
	}
	sort.Strings(conflicts)
	return conflicts
}

func (t *Table) reindexDevice(d *Device) {
	for _, u := range d.Units() {
		t.indexTopics(d.Endpoints[u].Topics, Target{DeviceID: d.ID, Unit: u})
	}
	names := make([]string, 0, len(d.Attributes))
	for name := range d.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.indexTopics(d.Attributes[name].Topics, Target{DeviceID: d.ID, Attribute: name})
	}
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := NewTable()
	for id, d := range t.devices {
		c.devices[id] = d.clone()
	}
	maps.Copy(c.index, t.index)
	return c
}

// MarshalJSON renders the devices sorted by id; the index is derived.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Devices())
}
