package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-zwave/internal/audit"
	"github.com/nerrad567/gray-logic-zwave/internal/bridges/zwave"
	"github.com/nerrad567/gray-logic-zwave/internal/device"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/mqtt"
)

// defaultQueueSize bounds the events waiting for the relay worker.
const defaultQueueSize = 256

// historyWriteTimeout bounds one InfluxDB write.
const historyWriteTimeout = 5 * time.Second

// Bus is the subset of *mqtt.Client the relay uses.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
	QoS() byte
}

// HistoryWriter records entity state changes. Satisfied by *influxdb.Client.
type HistoryWriter interface {
	WriteEntityState(ctx context.Context, p influxdb.EntityPoint) error
}

// CommandDispatcher sends host commands to the gateway. Satisfied by *zwave.Bridge.
type CommandDispatcher interface {
	Command(ctx context.Context, ref zwave.EntityRef, cmd zwave.Command) (zwave.DispatchResult, error)
}

// AuditRecorder records dispatched bus commands. Satisfied by *audit.SQLiteRepository.
type AuditRecorder interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// Logger is the logging interface used by the relay.
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

// Options configures a Relay. Bus and History are each optional, but at
// least one must be set.
type Options struct {
	Bus       Bus
	History   HistoryWriter
	Commands  CommandDispatcher // Required when Bus is set
	Audit     AuditRecorder     // Optional
	Logger    Logger
	QueueSize int
}

// StateMessage is the retained JSON document published for each entity.
type StateMessage struct {
	DeviceID     string     `json:"device_id"`
	Unit         int        `json:"unit"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	NValue       int        `json:"n_value"`
	SValue       string     `json:"s_value"`
	LastLevel    int        `json:"last_level"`
	BatteryLevel int        `json:"battery_level"`
	LastUpdate   *time.Time `json:"last_update,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// CommandMessage is the body accepted on an entity command topic.
type CommandMessage struct {
	Command string `json:"command"`
	Level   int    `json:"level,omitempty"`
	Color   string `json:"color,omitempty"`
}

// Relay mirrors the entity registry onto the Gray Logic bus and into
// InfluxDB, and feeds bus commands to the Z-Wave dispatcher.
//
// Registry events are queued by HandleEvent and drained by Run, so a slow
// broker or database never stalls the state path. Events arriving while
// the queue is full are dropped and counted.
type Relay struct {
	bus      Bus
	history  HistoryWriter
	commands CommandDispatcher
	audit    AuditRecorder
	queue    chan device.Event

	mu      sync.Mutex
	dropped int

	logger Logger
}

// New creates a relay.
func New(opts Options) (*Relay, error) {
	if opts.Bus == nil && opts.History == nil {
		return nil, fmt.Errorf("bus or history writer is required")
	}
	if opts.Bus != nil && opts.Commands == nil {
		return nil, fmt.Errorf("command dispatcher is required with a bus")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Relay{
		bus:      opts.Bus,
		history:  opts.History,
		commands: opts.Commands,
		audit:    opts.Audit,
		queue:    make(chan device.Event, opts.QueueSize),
		logger:   opts.Logger,
	}, nil
}

// Start subscribes to the entity command topics. It is a no-op without a bus.
func (r *Relay) Start(ctx context.Context) error {
	if r.bus == nil {
		return nil
	}
	topic := r.bus.Topics().AllEntityCommands()
	if err := r.bus.Subscribe(topic, r.bus.QoS(), func(t string, payload []byte) error {
		return r.handleCommand(ctx, t, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	r.logger.Info("uplink subscribed to commands", "topic", topic)
	return nil
}

// HandleEvent queues a registry event. It never blocks; register it with
// device.Registry.Subscribe.
func (r *Relay) HandleEvent(ev device.Event) {
	if ev.Type == device.EventTouched {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		metrics.UplinkDropped.Inc()
		r.logger.Warn("uplink queue full, event dropped", "entity", ev.Entity.Key.String(), "type", ev.Type)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Relay) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Run drains the event queue until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.queue:
			r.process(ctx, ev)
		}
	}
}

func (r *Relay) process(ctx context.Context, ev device.Event) {
	if r.bus != nil {
		if err := r.publishState(ev.Entity); err != nil {
			r.logger.Error("publishing entity state failed", "entity", ev.Entity.Key.String(), "error", err)
		}
	}
	if r.history != nil && ev.Type == device.EventUpdated {
		r.writeHistory(ctx, ev)
	}
}

func (r *Relay) publishState(e device.Entity) error {
	payload, err := json.Marshal(StateMessage{
		DeviceID:     e.DeviceID,
		Unit:         e.Unit,
		Name:         e.Name,
		Type:         e.Category.Name,
		NValue:       e.State.NValue,
		SValue:       e.State.SValue,
		LastLevel:    e.State.LastLevel,
		BatteryLevel: e.State.BatteryLevel,
		LastUpdate:   e.LastUpdate,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	topic := r.bus.Topics().EntityState(e.DeviceID, e.Unit)
	return r.bus.Publish(topic, payload, r.bus.QoS(), true)
}

func (r *Relay) writeHistory(ctx context.Context, ev device.Event) {
	at := ev.At
	if ev.Entity.LastUpdate != nil {
		at = *ev.Entity.LastUpdate
	}

	wctx, cancel := context.WithTimeout(ctx, historyWriteTimeout)
	defer cancel()

	err := r.history.WriteEntityState(wctx, influxdb.EntityPoint{
		DeviceID:     ev.Entity.DeviceID,
		Unit:         ev.Entity.Unit,
		TypeName:     ev.Entity.Category.Name,
		Numeric:      ev.Entity.State.NValue,
		Text:         ev.Entity.State.SValue,
		BatteryLevel: ev.Entity.State.BatteryLevel,
		Time:         at,
	})
	switch {
	case err == nil:
	case errors.Is(err, influxdb.ErrBreakerOpen):
		r.logger.Debug("history write shed", "entity", ev.Entity.Key.String())
	default:
		r.logger.Warn("history write failed", "entity", ev.Entity.Key.String(), "error", err)
	}
}

// handleCommand decodes a bus command and dispatches it. Errors are
// returned to the MQTT client, which logs them.
func (r *Relay) handleCommand(ctx context.Context, topic string, payload []byte) error {
	deviceID, unit, err := r.bus.Topics().ParseEntityCommand(topic)
	if err != nil {
		return err
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding command on %s: %w", topic, err)
	}
	if msg.Command == "" {
		return fmt.Errorf("command on %s has no command field", topic)
	}

	ref := zwave.EntityRef{DeviceID: deviceID, Unit: unit}
	result, err := r.commands.Command(ctx, ref, zwave.Command{
		Name:  msg.Command,
		Level: msg.Level,
		Color: msg.Color,
	})
	r.recordCommand(ctx, ref, msg, result, err)
	if err != nil {
		return fmt.Errorf("dispatching %q to %s: %w", msg.Command, ref, err)
	}
	r.logger.Debug("bus command dispatched",
		"entity", ref.String(),
		"command", msg.Command,
		"translated", result.Translated,
		"delivered", result.Delivered,
	)
	return nil
}

func (r *Relay) recordCommand(ctx context.Context, ref zwave.EntityRef, msg CommandMessage, result zwave.DispatchResult, dispatchErr error) {
	if r.audit == nil {
		return
	}
	details := map[string]any{
		"command":    msg.Command,
		"translated": result.Translated,
		"delivered":  result.Delivered,
		"failed":     result.Failed,
	}
	if dispatchErr != nil {
		details["error"] = dispatchErr.Error()
	}
	err := r.audit.Create(ctx, &audit.Entry{
		Action:  audit.ActionCommand,
		Entity:  ref.String(),
		Source:  audit.SourceBus,
		Details: details,
	})
	if err != nil {
		r.logger.Warn("audit write failed", "entity", ref.String(), "error", err)
	}
}
