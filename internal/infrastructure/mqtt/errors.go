package mqtt

import "errors"

// Errors returned by Client. Wrapped errors keep these as their cause.
var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic covers empty topics and bus topics outside the
	// graylogic/ layout.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
