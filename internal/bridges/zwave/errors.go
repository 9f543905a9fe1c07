package zwave

import "errors"

// Domain errors for the Z-Wave bridge package.
var (
	// ErrTopicStructure is returned when a discovery topic does not have
	// exactly five segments.
	ErrTopicStructure = errors.New("zwave: invalid discovery topic structure")

	// ErrMalformedPayload is returned when a payload is not valid JSON or
	// does not have the expected shape.
	ErrMalformedPayload = errors.New("zwave: malformed payload")

	// ErrInvalidDiscovery is returned when a discovery payload fails schema
	// validation.
	ErrInvalidDiscovery = errors.New("zwave: invalid discovery payload")

	// ErrUnknownTopic is returned when a state topic was never discovered.
	ErrUnknownTopic = errors.New("zwave: unknown topic")

	// ErrUnknownDevice is returned when a device identifier is not mapped.
	ErrUnknownDevice = errors.New("zwave: unknown device")

	// ErrUnknownEndpoint is returned when a device has no such unit.
	ErrUnknownEndpoint = errors.New("zwave: unknown endpoint")

	// ErrUnknownType is returned when a semantic type is not registered.
	ErrUnknownType = errors.New("zwave: unknown semantic type")

	// ErrUnmappedAttribute is returned when a device-level attribute has no
	// special handler.
	ErrUnmappedAttribute = errors.New("zwave: unmapped device attribute")

	// ErrTopicConflict is returned when a discovered state topic is already
	// indexed for a different device.
	ErrTopicConflict = errors.New("zwave: topic already mapped to another device")

	// ErrInvalidValue is returned when a decoder cannot interpret a value.
	ErrInvalidValue = errors.New("zwave: invalid value")

	// ErrNoCommandTopic is returned when an endpoint has no command topic.
	ErrNoCommandTopic = errors.New("zwave: endpoint has no command topic")

	// ErrCommandUnsupported is returned when the endpoint's type has no
	// command encoder.
	ErrCommandUnsupported = errors.New("zwave: command not supported for type")

	// ErrInvalidCommand is returned when a command name is not understood
	// by the encoder.
	ErrInvalidCommand = errors.New("zwave: invalid command")

	// ErrNotTranslated is returned by encoders that accept a command but
	// have no wire representation for it yet.
	ErrNotTranslated = errors.New("zwave: command not translated")

	// ErrPersistFailed is returned when the mapping table cannot be saved.
	ErrPersistFailed = errors.New("zwave: persisting configuration failed")
)
