package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-zwave/internal/bridges/zwave"
	"github.com/nerrad567/gray-logic-zwave/internal/device"
)

// hostAdapter exposes the entity registry as the Z-Wave bridge's host.
type hostAdapter struct {
	registry *device.Registry
}

func keyOf(ref zwave.EntityRef) device.Key {
	return device.Key{DeviceID: ref.DeviceID, Unit: ref.Unit}
}

// CreateEntity registers a new entity. An entity that already exists is
// left untouched so rediscovery stays idempotent.
func (h *hostAdapter) CreateEntity(ctx context.Context, spec zwave.EntitySpec) error {
	err := h.registry.Create(ctx, &device.Entity{
		Key:         keyOf(spec.Ref),
		Name:        spec.Name,
		Description: spec.Description,
		Category: device.Category{
			Name:       spec.Category.Name,
			Type:       spec.Category.Type,
			SubType:    spec.Category.SubType,
			SwitchType: spec.Category.SwitchType,
		},
		State: device.State{BatteryLevel: device.DefaultBatteryLevel},
	})
	if err != nil && !errors.Is(err, device.ErrEntityExists) {
		return fmt.Errorf("creating entity %s: %w", spec.Ref, err)
	}
	return nil
}

func (h *hostAdapter) EntityState(ctx context.Context, ref zwave.EntityRef) (zwave.EntityState, error) {
	e, err := h.registry.Get(ctx, keyOf(ref))
	if err != nil {
		return zwave.EntityState{}, err
	}
	st := zwave.EntityState{
		Numeric:      e.State.NValue,
		Text:         e.State.SValue,
		LastLevel:    e.State.LastLevel,
		BatteryLevel: e.State.BatteryLevel,
	}
	if e.LastUpdate != nil {
		st.LastUpdate = *e.LastUpdate
	}
	return st, nil
}

// UpdateEntity stores state with state.LastUpdate as the entity's
// last-update time, so later events are judged against the gateway clock.
func (h *hostAdapter) UpdateEntity(ctx context.Context, ref zwave.EntityRef, state zwave.EntityState, logChange bool) error {
	return h.registry.UpdateStateAt(ctx, keyOf(ref), device.State{
		NValue:       state.Numeric,
		SValue:       state.Text,
		LastLevel:    state.LastLevel,
		BatteryLevel: state.BatteryLevel,
	}, state.LastUpdate, logChange)
}

func (h *hostAdapter) TouchEntity(ctx context.Context, ref zwave.EntityRef, at time.Time) error {
	return h.registry.Touch(ctx, keyOf(ref), at)
}
