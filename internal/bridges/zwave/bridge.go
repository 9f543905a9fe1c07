package zwave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/metrics"
)

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Store     ConfigStore
	Host      Host
	Publisher Publisher
	Registry  *Registry
	Logger    Logger
}

// Bridge wires the discovery, synchronisation and dispatch engines around
// one shared mapping table. It is what the broker session routes publishes
// into and what the host sends commands through.
type Bridge struct {
	discovery  *Discovery
	sync       *Synchronizer
	dispatcher *Dispatcher

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. The persisted table is not loaded until Start.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}

	discovery, err := NewDiscovery(DiscoveryOptions{
		Store:    opts.Store,
		Host:     opts.Host,
		Registry: opts.Registry,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	syncer, err := NewSynchronizer(SynchronizerOptions{
		Discovery: discovery,
		Host:      opts.Host,
		Registry:  opts.Registry,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(DispatcherOptions{
		Discovery: discovery,
		Publisher: opts.Publisher,
		Registry:  opts.Registry,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Bridge{
		discovery:  discovery,
		sync:       syncer,
		dispatcher: dispatcher,
		logger:     opts.Logger,
	}, nil
}

// Start loads the persisted mapping table.
func (b *Bridge) Start(ctx context.Context) error {
	return b.discovery.Load(ctx)
}

// SetLogger replaces the bridge logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	defer b.loggerMu.Unlock()
	b.logger = logger
}

func (b *Bridge) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Discovery returns the discovery engine.
func (b *Bridge) Discovery() *Discovery { return b.discovery }

// HandleDiscovery applies a discovery-namespace publish. Failures are
// logged here; the returned error is for callers that count outcomes.
func (b *Bridge) HandleDiscovery(ctx context.Context, topic string, payload []byte) error {
	result, err := b.discovery.Apply(ctx, topic, payload)
	if err != nil {
		metrics.DiscoveryMessages.WithLabelValues(errorKind(err)).Inc()
		b.log().Warn("discovery message dropped", "topic", topic, "error", err)
		return err
	}
	metrics.DiscoveryMessages.WithLabelValues(result.Outcome.String()).Inc()
	return nil
}

// HandleState applies a device-namespace publish.
func (b *Bridge) HandleState(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	result, err := b.sync.Apply(ctx, topic, payload)
	metrics.StateApplyDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.StateMessages.WithLabelValues(errorKind(err)).Inc()
		if IsMappingMiss(err) {
			b.log().Warn("state message not mapped", "topic", topic, "error", err)
		} else {
			b.log().Error("state message not applied", "topic", topic, "error", err)
		}
		return err
	}

	switch {
	case result.Stale:
		metrics.StateMessages.WithLabelValues("stale").Inc()
	case len(result.Updates) == 0:
		metrics.StateMessages.WithLabelValues("ignored").Inc()
	default:
		for _, u := range result.Updates {
			metrics.StateMessages.WithLabelValues(u.Action.String()).Inc()
		}
	}
	return nil
}

// CheckDiscovery validates a discovery payload against the schema without
// applying it. The broker calls it before acknowledging the publish.
func (b *Bridge) CheckDiscovery(payload []byte) error {
	_, err := ParseDiscoveryMessage(payload)
	return err
}

// CheckState rejects state payloads that are not a JSON object with a
// usable time.
func (b *Bridge) CheckState(payload []byte) error {
	_, err := ParseStateMessage(payload)
	return err
}

// Command dispatches a host command (the host's onCommand entry point).
func (b *Bridge) Command(ctx context.Context, ref EntityRef, cmd Command) (DispatchResult, error) {
	result, err := b.dispatcher.Dispatch(ctx, ref, cmd)
	switch {
	case err != nil:
		metrics.Commands.WithLabelValues(errorKind(err)).Inc()
		b.log().Error("command failed", "entity", ref.String(), "command", cmd.Name, "error", err)
	case !result.Translated:
		metrics.Commands.WithLabelValues("not_translated").Inc()
	default:
		metrics.Commands.WithLabelValues("published").Inc()
	}
	return result, err
}

// errorKind maps an error to a metrics label.
func errorKind(err error) string {
	switch {
	case IsMappingMiss(err):
		return "mapping_miss"
	case errors.Is(err, ErrTopicStructure):
		return "structure"
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrInvalidDiscovery):
		return "malformed"
	case errors.Is(err, ErrTopicConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrNoCommandTopic), errors.Is(err, ErrCommandUnsupported), errors.Is(err, ErrInvalidCommand):
		return "unsupported"
	default:
		return "error"
	}
}
