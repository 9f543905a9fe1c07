package influxdb

import "errors"

var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrWriteFailed      = errors.New("influxdb: write failed")

	// ErrBreakerOpen means history writes are shed until the breaker
	// half-opens again.
	ErrBreakerOpen = errors.New("influxdb: circuit breaker open")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
