package zwave

import (
	"context"
	"errors"
	"fmt"
)

// DispatchResult reports what a command produced on the wire.
type DispatchResult struct {
	Topic      string
	Payload    []byte
	Translated bool // false when the encoder accepted the command without a payload
	Delivered  int  // number of clients the publish was written to
	Failed     int  // number of clients that could not be reached
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Discovery *Discovery
	Publisher Publisher
	Registry  *Registry // Defaults to DefaultRegistry()
	Logger    Logger
}

// Dispatcher turns host commands into gateway publishes.
type Dispatcher struct {
	discovery *Discovery
	publisher Publisher
	registry  *Registry
	logger    Logger
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Discovery == nil {
		return nil, fmt.Errorf("discovery is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Dispatcher{
		discovery: opts.Discovery,
		publisher: opts.Publisher,
		registry:  opts.Registry,
		logger:    opts.Logger,
	}, nil
}

// Dispatch encodes cmd for the endpoint addressed by ref and publishes it
// at QoS 1 to every connected client. Nothing is published unless the
// endpoint, its encoder and its command topic all resolve.
func (d *Dispatcher) Dispatch(ctx context.Context, ref EntityRef, cmd Command) (DispatchResult, error) {
	if err := ctx.Err(); err != nil {
		return DispatchResult{}, err
	}

	ep, err := d.discovery.Endpoint(ref)
	if err != nil {
		return DispatchResult{}, err
	}
	if _, ok := d.registry.Lookup(ep.MappedType); !ok {
		return DispatchResult{}, fmt.Errorf("%w: %s on %s", ErrUnknownType, ep.MappedType, ref)
	}
	enc, ok := d.registry.Encoder(ep.MappedType)
	if !ok {
		return DispatchResult{}, fmt.Errorf("%w: %s on %s", ErrCommandUnsupported, ep.MappedType, ref)
	}
	topic := ep.CommandTopic()
	if topic == "" {
		return DispatchResult{}, fmt.Errorf("%w: %s", ErrNoCommandTopic, ref)
	}

	result := DispatchResult{Topic: topic}
	payload, err := enc.Encode(ep, cmd)
	if errors.Is(err, ErrNotTranslated) {
		d.logger.Info("command accepted without translation",
			"entity", ref.String(),
			"type", ep.MappedType,
			"command", cmd.Name,
			"level", cmd.Level,
			"color", cmd.Color,
		)
		return result, nil
	}
	if err != nil {
		return DispatchResult{}, err
	}
	result.Payload = payload
	result.Translated = true

	delivered, err := d.publisher.Broadcast(topic, payload)
	result.Delivered = delivered
	for _, clientErr := range unwrapJoined(err) {
		result.Failed++
		d.logger.Error("command not delivered", "entity", ref.String(), "topic", topic, "error", clientErr)
	}
	if delivered == 0 && result.Failed == 0 {
		d.logger.Warn("no gateway connected for command", "entity", ref.String(), "topic", topic)
	}

	d.logger.Info("command published",
		"entity", ref.String(),
		"command", cmd.Name,
		"topic", topic,
		"payload", string(payload),
		"delivered", delivered,
	)
	return result, nil
}

func unwrapJoined(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
