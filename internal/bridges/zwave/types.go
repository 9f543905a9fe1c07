package zwave

import (
	"context"
	"fmt"
	"time"
)

// Category identifies the kind of host entity created for an endpoint.
//
// Most categories are named host types ("Switch", "Dimmer"). A few host
// types have no name and are addressed by their numeric type, sub-type and
// switch type instead; those carry Type > 0 and the optional fields.
type Category struct {
	Name       string // Host type name, or a descriptive label for numeric categories
	Type       int    // Numeric host type, 0 when Name is authoritative
	SubType    *int   // Optional sub-classification
	SwitchType *int   // Optional switch behaviour
}

// NamedCategory returns a category resolved by host type name.
func NamedCategory(name string) Category {
	return Category{Name: name}
}

// NumericCategory returns a category addressed by numeric host type.
func NumericCategory(label string, typ, subType, switchType int) Category {
	return Category{Name: label, Type: typ, SubType: &subType, SwitchType: &switchType}
}

// IsNumeric reports whether the category is addressed by numeric type.
func (c Category) IsNumeric() bool {
	return c.Type > 0
}

// String renders the category for logs.
func (c Category) String() string {
	if !c.IsNumeric() {
		return c.Name
	}
	sub, sw := 0, 0
	if c.SubType != nil {
		sub = *c.SubType
	}
	if c.SwitchType != nil {
		sw = *c.SwitchType
	}
	return fmt.Sprintf("%s(%d/%d/%d)", c.Name, c.Type, sub, sw)
}

// EntityRef addresses one host entity: a device identifier and unit number.
type EntityRef struct {
	DeviceID string
	Unit     int
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%d", r.DeviceID, r.Unit)
}

// DefaultBatteryLevel is the host's "battery level unknown" marker.
const DefaultBatteryLevel = 255

// EntityState is the host-owned value of one entity.
type EntityState struct {
	Numeric      int       // Host numeric value (on/off indicator, level indicator)
	Text         string    // Host display value
	LastLevel    int       // Last non-zero dimmer level
	BatteryLevel int       // 0-100, DefaultBatteryLevel when unknown
	LastUpdate   time.Time // Time of the last applied update or touch
}

// EntitySpec describes a host entity to be created for a new endpoint.
type EntitySpec struct {
	Ref         EntityRef
	Category    Category
	Name        string
	Description string
}

// Command is an outbound request from the host for one entity.
type Command struct {
	Name  string // "On", "Off", "Set Level", "Set Color", ...
	Level int    // Level for "Set Level" (0-99 host scale)
	Color string // Raw colour value for "Set Color"
}

// Action is the host mutation a decoder asks for.
type Action int

const (
	// ActionNone leaves the entity untouched.
	ActionNone Action = iota
	// ActionTouch refreshes the entity's last-update time only.
	ActionTouch
	// ActionUpdate writes the decoded state.
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionTouch:
		return "touch"
	case ActionUpdate:
		return "update"
	default:
		return "none"
	}
}

// Decision is the result of decoding one state value.
type Decision struct {
	Action    Action
	State     EntityState
	LogChange bool // Record the change in the host's entity log
}

// Host is the host entity model the bridge reads and mutates.
type Host interface {
	CreateEntity(ctx context.Context, spec EntitySpec) error
	EntityState(ctx context.Context, ref EntityRef) (EntityState, error)
	UpdateEntity(ctx context.Context, ref EntityRef, state EntityState, logChange bool) error
	TouchEntity(ctx context.Context, ref EntityRef, at time.Time) error
}

// ConfigStore persists the whole mapping table.
type ConfigStore interface {
	LoadTable(ctx context.Context) (*Table, error)
	SaveTable(ctx context.Context, table *Table) error
}

// Publisher delivers a QoS 1 publish to every connected gateway client.
//
// Broadcast returns the number of clients the message was written to and
// an error joining every per-client failure.
type Publisher interface {
	Broadcast(topic string, payload []byte) (int, error)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
