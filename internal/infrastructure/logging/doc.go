// Package logging provides structured logging for the Z-Wave broker.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the application, plus a Tracer
// that records raw gateway traffic to a file.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("broker listening", "addr", ":1883")
//
// Never log broker credentials, JWT secrets or InfluxDB tokens.
package logging
