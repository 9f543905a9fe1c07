package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/metrics"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultMaxFailures    = 5
	defaultOpenTimeout    = 30 * time.Second
)

// pointWriter is the subset of api.WriteAPIBlocking used for history.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Client records entity state history in InfluxDB.
//
// Writes are synchronous and pass through a circuit breaker: after
// MaxFailures consecutive failures the breaker opens and writes fail fast
// with ErrBreakerOpen until OpenTimeout has elapsed.
//
// All methods are safe for concurrent use.
type Client struct {
	client  influxdb2.Client
	writer  pointWriter
	breaker *gobreaker.CircuitBreaker

	mu        sync.RWMutex
	connected bool
}

// Connect creates the InfluxDB client, verifies the server answers a ping
// and prepares the blocking write API for cfg.Org and cfg.Bucket.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := newClient(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Breaker)
	c.client = client
	return c, nil
}

func newClient(w pointWriter, bc config.BreakerConfig) *Client {
	maxFailures := uint32(defaultMaxFailures)
	if bc.MaxFailures > 0 {
		maxFailures = uint32(bc.MaxFailures) // #nosec G115 -- validated positive
	}
	openTimeout := defaultOpenTimeout
	if bc.OpenTimeout > 0 {
		openTimeout = time.Duration(bc.OpenTimeout) * time.Second
	}

	return &Client{
		writer: w,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "influxdb-history",
			Timeout: openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}),
		connected: true,
	}
}

// Close marks the client disconnected and releases the HTTP client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// IsConnected reports whether Close has not yet been called.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// BreakerState returns "closed", "half-open" or "open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return errors.New("influxdb health check failed: server not healthy")
	}
	return nil
}

// writePoint sends one point through the breaker and records the outcome.
func (c *Client) writePoint(ctx context.Context, p *write.Point) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.writer.WritePoint(ctx, p)
	})
	switch {
	case err == nil:
		metrics.HistoryWrites.WithLabelValues("ok").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.HistoryWrites.WithLabelValues("shed").Inc()
		return ErrBreakerOpen
	default:
		metrics.HistoryWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
}
