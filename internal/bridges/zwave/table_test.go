package zwave

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDevice_NextUnit(t *testing.T) {
	d := newDevice("nodeID_5")
	if d.NextUnit() != 1 {
		t.Errorf("NextUnit() on empty device = %d, want 1", d.NextUnit())
	}

	d.Endpoints[1] = &Endpoint{Unit: 1}
	d.Endpoints[4] = &Endpoint{Unit: 4}
	if d.NextUnit() != 5 {
		t.Errorf("NextUnit() = %d, want 5", d.NextUnit())
	}

	units := d.Units()
	if len(units) != 2 || units[0] != 1 || units[1] != 4 {
		t.Errorf("Units() = %v, want [1 4]", units)
	}
}

func TestTable_IndexConflicts(t *testing.T) {
	table := NewTable()
	a := Target{DeviceID: "nodeID_5", Unit: 1}
	b := Target{DeviceID: "nodeID_6", Unit: 1}

	topics := map[string]string{
		FieldStateTopic:          "zwave/5/37/0/currentValue",
		"brightness_state_topic": "zwave/5/38/0/currentValue",
		FieldCommandTopic:        "zwave/5/37/0/targetValue/set",
		"json_attributes_topic":  "zwave/5/attrs",
	}
	if conflicts := table.indexTopics(topics, a); len(conflicts) != 0 {
		t.Fatalf("indexTopics() conflicts = %v", conflicts)
	}
	if table.IndexSize() != 2 {
		t.Errorf("IndexSize() = %d, want 2 (only *state_topic fields)", table.IndexSize())
	}

	conflicts := table.indexTopics(map[string]string{FieldStateTopic: "zwave/5/37/0/currentValue"}, b)
	if len(conflicts) != 1 {
		t.Errorf("indexTopics() conflicts = %v, want one", conflicts)
	}
	if got, _ := table.Lookup("zwave/5/37/0/currentValue"); got != a {
		t.Errorf("Lookup() = %+v, want first owner %+v", got, a)
	}

	// Re-indexing for the same target is not a conflict.
	if conflicts := table.indexTopics(topics, a); len(conflicts) != 0 {
		t.Errorf("re-index conflicts = %v", conflicts)
	}
}

func TestTable_CloneIsIndependent(t *testing.T) {
	table := NewTable()
	d := newDevice("nodeID_5")
	d.Endpoints[1] = &Endpoint{Unit: 1, MappedType: "switch", Topics: map[string]string{FieldStateTopic: "s1"}}
	table.AddDevice(d)

	c := table.Clone()
	cd, _ := c.Device("nodeID_5")
	cd.Endpoints[1].Topics[FieldStateTopic] = "changed"
	cd.Endpoints[2] = &Endpoint{Unit: 2}
	c.indexTopics(map[string]string{FieldStateTopic: "s2"}, Target{DeviceID: "nodeID_5", Unit: 2})

	orig, _ := table.Device("nodeID_5")
	if orig.Endpoints[1].Topics[FieldStateTopic] != "s1" {
		t.Error("clone shares endpoint topics with original")
	}
	if len(orig.Endpoints) != 1 {
		t.Error("clone shares endpoint map with original")
	}
	if _, ok := table.Lookup("s2"); ok {
		t.Error("clone shares index with original")
	}
}

func TestTable_Endpoint(t *testing.T) {
	table := NewTable()
	d := newDevice("nodeID_5")
	d.Endpoints[1] = &Endpoint{Unit: 1, MappedType: "dimmer", Topics: map[string]string{}}
	table.AddDevice(d)

	ep, err := table.Endpoint(EntityRef{DeviceID: "nodeID_5", Unit: 1})
	if err != nil || ep.MappedType != "dimmer" {
		t.Errorf("Endpoint() = %+v, %v", ep, err)
	}
	if _, err := table.Endpoint(EntityRef{DeviceID: "nodeID_9", Unit: 1}); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Endpoint() unknown device error = %v", err)
	}
	if _, err := table.Endpoint(EntityRef{DeviceID: "nodeID_5", Unit: 3}); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("Endpoint() unknown unit error = %v", err)
	}
}

func TestTable_MarshalJSON(t *testing.T) {
	table := NewTable()
	for _, id := range []string{"nodeID_7", "nodeID_5"} {
		d := newDevice(id)
		d.Endpoints[1] = &Endpoint{Unit: 1, MappedType: "switch", PayloadOn: val(`"ON"`)}
		table.AddDevice(d)
	}

	raw, err := json.Marshal(table)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var devices []struct {
		ID        string `json:"id"`
		Endpoints map[string]struct {
			PayloadOn any `json:"payload_on"`
		} `json:"endpoints"`
	}
	if err := json.Unmarshal(raw, &devices); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(devices) != 2 || devices[0].ID != "nodeID_5" {
		t.Fatalf("devices = %+v, want sorted by id", devices)
	}
	if devices[0].Endpoints["1"].PayloadOn != "ON" {
		t.Errorf("payload_on = %v, want ON", devices[0].Endpoints["1"].PayloadOn)
	}
}
