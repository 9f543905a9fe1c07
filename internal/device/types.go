package device

import (
	"fmt"
	"time"
)

// DefaultBatteryLevel marks an entity whose battery level is unknown.
const DefaultBatteryLevel = 255

// Key addresses one entity: the bridge device identifier plus unit number.
type Key struct {
	DeviceID string `json:"device_id"`
	Unit     int    `json:"unit"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.DeviceID, k.Unit)
}

// Category is the host classification of an entity.
// This matches the type_* columns in migrations/20260301_120100_entities.up.sql.
type Category struct {
	Name       string `json:"name"`
	Type       int    `json:"type,omitempty"`
	SubType    *int   `json:"sub_type,omitempty"`
	SwitchType *int   `json:"switch_type,omitempty"`
}

// State is the mutable value of an entity.
type State struct {
	NValue       int    `json:"n_value"`
	SValue       string `json:"s_value"`
	LastLevel    int    `json:"last_level"`
	BatteryLevel int    `json:"battery_level"`
}

// Entity is one host-side entity backed by a Z-Wave endpoint.
type Entity struct {
	Key
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    Category `json:"category"`

	State      State      `json:"state"`
	LastUpdate *time.Time `json:"last_update,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the entity. Pointer fields are
// cloned so callers cannot mutate a cached value through the copy.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Category.SubType = copyInt(e.Category.SubType)
	cpy.Category.SwitchType = copyInt(e.Category.SwitchType)
	if e.LastUpdate != nil {
		t := *e.LastUpdate
		cpy.LastUpdate = &t
	}
	return &cpy
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// LogEntry is one row of the entity change log.
type LogEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Unit      int       `json:"unit"`
	NValue    int       `json:"n_value"`
	SValue    string    `json:"s_value"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType classifies registry events.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventTouched EventType = "touched"
)

// Event describes one registry mutation. Entity is a copy taken after the
// mutation was applied.
type Event struct {
	Type      EventType `json:"type"`
	Entity    Entity    `json:"entity"`
	LogChange bool      `json:"log_change,omitempty"`
	At        time.Time `json:"at"`
}

// EventHandler receives registry events. Handlers run on the mutating
// goroutine and must not block.
type EventHandler func(Event)
