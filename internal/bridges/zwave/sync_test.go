package zwave

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var syncNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSynchronizer(t *testing.T) (*Synchronizer, *Discovery, *MockHost) {
	t.Helper()
	d, host, _ := newTestDiscovery()
	s, err := NewSynchronizer(SynchronizerOptions{
		Discovery: d,
		Host:      host,
		Now:       func() time.Time { return syncNow },
	})
	if err != nil {
		t.Fatalf("NewSynchronizer() error = %v", err)
	}
	return s, d, host
}

func statePayload(at time.Time, value string) []byte {
	if at.IsZero() {
		return fmt.Appendf(nil, `{"value":%s}`, value)
	}
	return fmt.Appendf(nil, `{"time":%d,"value":%s}`, at.UnixMilli(), value)
}

func TestSynchronizer_AppliesUpdate(t *testing.T) {
	s, d, host := newTestSynchronizer(t)
	ctx := context.Background()
	mustDiscover(d, "dimmer", "nodeID_5", "zwave/5/38/0/currentValue", "", "")
	ref := EntityRef{DeviceID: "nodeID_5", Unit: 1}

	eventTime := syncNow.Add(-time.Minute)
	res, err := s.Apply(ctx, "zwave/5/38/0/currentValue", statePayload(eventTime, "42"))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Updates) != 1 || res.Updates[0].Action != ActionUpdate {
		t.Fatalf("Updates = %+v", res.Updates)
	}

	st := host.state(ref)
	if st.Numeric != dimmerPartial || st.Text != "42" || st.LastLevel != 42 {
		t.Errorf("state = %+v", st)
	}
	if !st.LastUpdate.Equal(eventTime) {
		t.Errorf("LastUpdate = %v, want event time %v", st.LastUpdate, eventTime)
	}
	if !host.updates[0].LogChange {
		t.Error("dimmer update should be logged")
	}
}

func TestSynchronizer_NoTimeUsesNow(t *testing.T) {
	s, d, host := newTestSynchronizer(t)
	mustDiscover(d, "electric_w_value", "nodeID_5", "zwave/5/50/0/value/66049", "", "")

	if _, err := s.Apply(context.Background(), "zwave/5/50/0/value/66049", statePayload(time.Time{}, "12.5")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	st := host.state(EntityRef{DeviceID: "nodeID_5", Unit: 1})
	if st.Text != "12.500" || !st.LastUpdate.Equal(syncNow) {
		t.Errorf("state = %+v", st)
	}
}

func TestSynchronizer_Staleness(t *testing.T) {
	last := time.UnixMilli(1700000000000)

	tests := []struct {
		name      string
		eventTime time.Time
		wantStale bool
	}{
		{"one millisecond older is dropped", last.Add(-time.Millisecond), true},
		{"equal time is applied", last, false},
		{"newer is applied", last.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, d, host := newTestSynchronizer(t)
			mustDiscover(d, "switch", "nodeID_5", "zwave/5/37/0/currentValue", "", "")
			ref := EntityRef{DeviceID: "nodeID_5", Unit: 1}
			host.setState(ref, EntityState{Numeric: 0, Text: "Off", LastUpdate: last})

			res, err := s.Apply(context.Background(), "zwave/5/37/0/currentValue", statePayload(tt.eventTime, "true"))
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if res.Stale != tt.wantStale {
				t.Errorf("Stale = %v, want %v", res.Stale, tt.wantStale)
			}
			st := host.state(ref)
			if tt.wantStale && st.Numeric != 0 {
				t.Error("stale event mutated state")
			}
			if !tt.wantStale && st.Numeric != 1 {
				t.Error("fresh event was not applied")
			}
		})
	}
}

// A gateway clock behind the host must not make later events look stale:
// only the recorded event time is compared.
func TestSynchronizer_EventSequenceBehindHostClock(t *testing.T) {
	s, d, host := newTestSynchronizer(t)
	ctx := context.Background()
	mustDiscover(d, "dimmer", "nodeID_5", "zwave/5/38/0/currentValue", "", "")
	ref := EntityRef{DeviceID: "nodeID_5", Unit: 1}
	t0 := syncNow.Add(-10 * time.Second)

	steps := []struct {
		at        time.Time
		value     string
		wantStale bool
		wantText  string
	}{
		{t0, "50", false, "50"},
		{t0.Add(time.Second), "0", false, "0"},
		{t0.Add(time.Second), "30", false, "30"},
		{t0.Add(time.Second - time.Millisecond), "70", true, "30"},
	}
	for i, st := range steps {
		res, err := s.Apply(ctx, "zwave/5/38/0/currentValue", statePayload(st.at, st.value))
		if err != nil {
			t.Fatalf("step %d: Apply() error = %v", i, err)
		}
		if res.Stale != st.wantStale {
			t.Errorf("step %d: Stale = %v, want %v", i, res.Stale, st.wantStale)
		}
		if got := host.state(ref).Text; got != st.wantText {
			t.Errorf("step %d: text = %q, want %q", i, got, st.wantText)
		}
	}

	want := t0.Add(time.Second)
	for _, u := range host.updates {
		if u.State.LastUpdate.After(want) {
			t.Errorf("update recorded %v, later than any event time", u.State.LastUpdate)
		}
	}
	if got := host.state(ref).LastUpdate; !got.Equal(want) {
		t.Errorf("LastUpdate = %v, want %v", got, want)
	}
}

func TestSynchronizer_UnchangedValueTouches(t *testing.T) {
	s, d, host := newTestSynchronizer(t)
	mustDiscover(d, "switch", "nodeID_5", "zwave/5/37/0/currentValue", "", "")
	ref := EntityRef{DeviceID: "nodeID_5", Unit: 1}
	host.setState(ref, EntityState{Numeric: 1, Text: "On"})

	res, err := s.Apply(context.Background(), "zwave/5/37/0/currentValue", statePayload(time.Time{}, "true"))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Updates) != 1 || res.Updates[0].Action != ActionTouch {
		t.Errorf("Updates = %+v, want one touch", res.Updates)
	}
	_, updates, touches := host.counts()
	if updates != 0 || touches != 1 {
		t.Errorf("updates=%d touches=%d, want 0/1", updates, touches)
	}
	if !host.state(ref).LastUpdate.Equal(syncNow) {
		t.Error("touch did not refresh LastUpdate")
	}
}

func TestSynchronizer_UnknownTopic(t *testing.T) {
	s, _, host := newTestSynchronizer(t)

	_, err := s.Apply(context.Background(), "zwave/99/37/0/currentValue", statePayload(time.Time{}, "true"))
	if !errors.Is(err, ErrUnknownTopic) || !IsMappingMiss(err) {
		t.Errorf("Apply() error = %v, want ErrUnknownTopic", err)
	}
	if _, updates, touches := host.counts(); updates+touches != 0 {
		t.Error("unknown topic mutated state")
	}
}

func TestSynchronizer_MalformedPayload(t *testing.T) {
	s, d, host := newTestSynchronizer(t)
	mustDiscover(d, "switch", "nodeID_5", "zwave/5/37/0/currentValue", "", "")

	_, err := s.Apply(context.Background(), "zwave/5/37/0/currentValue", []byte("true"))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("Apply() error = %v, want ErrMalformedPayload", err)
	}
	if _, updates, _ := host.counts(); updates != 0 {
		t.Error("malformed payload mutated state")
	}
}

func TestSynchronizer_MissingValueIgnored(t *testing.T) {
	s, d, host := newTestSynchronizer(t)
	mustDiscover(d, "switch", "nodeID_5", "zwave/5/37/0/currentValue", "", "")

	res, err := s.Apply(context.Background(), "zwave/5/37/0/currentValue", []byte(`{"time":1}`))
	if err != nil || len(res.Updates) != 0 {
		t.Errorf("Apply() = %+v, %v, want no updates", res, err)
	}
	if _, updates, touches := host.counts(); updates+touches != 0 {
		t.Error("message without value mutated state")
	}
}

func TestSynchronizer_DecodeError(t *testing.T) {
	s, d, _ := newTestSynchronizer(t)
	mustDiscover(d, "dimmer", "nodeID_5", "zwave/5/38/0/currentValue", "", "")

	_, err := s.Apply(context.Background(), "zwave/5/38/0/currentValue", statePayload(time.Time{}, `"bright"`))
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Apply() error = %v, want ErrInvalidValue", err)
	}
}

func TestSynchronizer_SceneIsNoop(t *testing.T) {
	s, d, host := newTestSynchronizer(t)
	mustDiscover(d, "scene_state_scene_001", "nodeID_5", "zwave/5/91/0/scene/001", "", "")

	res, err := s.Apply(context.Background(), "zwave/5/91/0/scene/001", statePayload(time.Time{}, "0"))
	if err != nil || len(res.Updates) != 0 {
		t.Errorf("Apply() = %+v, %v", res, err)
	}
	if _, updates, touches := host.counts(); updates+touches != 0 {
		t.Error("scene value mutated state")
	}
}

func TestSynchronizer_BatteryFansOut(t *testing.T) {
	s, d, host := newTestSynchronizer(t)
	mustDiscover(d, "switch", "nodeID_5", "zwave/5/37/0/currentValue", "", "")
	mustDiscover(d, "electric_w_value", "nodeID_5", "zwave/5/50/0/value/66049", "", "")
	mustDiscover(d, "battery_level", "nodeID_5", "zwave/5/128/0/level", "", "")

	refs := []EntityRef{{DeviceID: "nodeID_5", Unit: 1}, {DeviceID: "nodeID_5", Unit: 2}}
	last := time.UnixMilli(1700000000000)
	for _, ref := range refs {
		host.setState(ref, EntityState{BatteryLevel: DefaultBatteryLevel, LastUpdate: last})
	}

	// An event time older than LastUpdate is still applied at device scope.
	res, err := s.Apply(context.Background(), "zwave/5/128/0/level", statePayload(last.Add(-time.Hour), "73"))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Stale || len(res.Updates) != 2 {
		t.Fatalf("result = %+v, want two updates", res)
	}
	for _, ref := range refs {
		st := host.state(ref)
		if st.BatteryLevel != 73 {
			t.Errorf("%s battery = %d, want 73", ref, st.BatteryLevel)
		}
		if !st.LastUpdate.Equal(last) {
			t.Errorf("%s LastUpdate moved to %v", ref, st.LastUpdate)
		}
	}

	res, err = s.Apply(context.Background(), "zwave/5/128/0/level", statePayload(time.Time{}, "73"))
	if err != nil || len(res.Updates) != 0 {
		t.Errorf("repeat battery = %+v, %v, want no updates", res, err)
	}
}

func TestSynchronizer_AttributeHostErrorsJoined(t *testing.T) {
	s, d, host := newTestSynchronizer(t)
	mustDiscover(d, "switch", "nodeID_5", "zwave/5/37/0/currentValue", "", "")
	mustDiscover(d, "battery_level", "nodeID_5", "zwave/5/128/0/level", "", "")
	host.readErr = errors.New("host offline")

	_, err := s.Apply(context.Background(), "zwave/5/128/0/level", statePayload(time.Time{}, "50"))
	if err == nil {
		t.Error("Apply() expected joined host error")
	}
}

func TestSynchronizer_UnmappedAttribute(t *testing.T) {
	d, host, _ := newTestDiscovery()
	mustDiscover(d, "battery_level", "nodeID_5", "zwave/5/128/0/level", "", "")

	// A registry without the battery handler treats the attribute as unmapped.
	s, err := NewSynchronizer(SynchronizerOptions{
		Discovery: d,
		Host:      host,
		Registry:  NewRegistry(builtinTypes, nil),
	})
	if err != nil {
		t.Fatalf("NewSynchronizer() error = %v", err)
	}
	_, err = s.Apply(context.Background(), "zwave/5/128/0/level", statePayload(time.Time{}, "50"))
	if !errors.Is(err, ErrUnmappedAttribute) {
		t.Errorf("Apply() error = %v, want ErrUnmappedAttribute", err)
	}
}

func TestSynchronizer_UnknownSemanticType(t *testing.T) {
	d, host, _ := newTestDiscovery()
	mustDiscover(d, "switch", "nodeID_5", "zwave/5/37/0/currentValue", "", "")

	s, err := NewSynchronizer(SynchronizerOptions{
		Discovery: d,
		Host:      host,
		Registry:  NewRegistry(nil, builtinAttributes),
	})
	if err != nil {
		t.Fatalf("NewSynchronizer() error = %v", err)
	}
	_, err = s.Apply(context.Background(), "zwave/5/37/0/currentValue", statePayload(time.Time{}, "true"))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("Apply() error = %v, want ErrUnknownType", err)
	}
}
