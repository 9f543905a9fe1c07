package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Z-Wave broker.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Broker    BrokerConfig    `yaml:"broker"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" validate:"required"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" validate:"gte=0"`
}

// BrokerConfig contains the embedded MQTT broker the Z-Wave gateway connects to.
type BrokerConfig struct {
	Host string          `yaml:"host"`
	Port int             `yaml:"port" validate:"gte=0,lte=65535"`
	TLS  BrokerTLSConfig `yaml:"tls"`
	Auth BrokerAuth      `yaml:"auth"`

	// MaxProtocolVersion is the highest MQTT protocol level accepted (4 = 3.1.1).
	MaxProtocolVersion int `yaml:"max_protocol_version" validate:"gte=3,lte=4"`

	// MaxPacketSize is advertised in CONNACK.
	MaxPacketSize int `yaml:"max_packet_size" validate:"gt=0"`

	// DiscoveryPrefix is the first topic segment of discovery messages.
	DiscoveryPrefix string `yaml:"discovery_prefix" validate:"required,excludes=/"`

	// StatePrefix is the first topic segment of device state messages.
	StatePrefix string `yaml:"state_prefix" validate:"required,excludes=/"`

	Trace     TraceConfig     `yaml:"trace"`
	Advertise AdvertiseConfig `yaml:"advertise"`
}

// BrokerTLSConfig enables a TLS listener alongside the plain one.
type BrokerTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	CertFile string `yaml:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file" validate:"required_if=Enabled true"`

	// ClientCAFile requires and verifies client certificates when set.
	ClientCAFile string `yaml:"client_ca_file"`
}

// BrokerAuth holds the static credentials gateway clients must present.
// Both empty disables authentication.
type BrokerAuth struct {
	Username string `yaml:"username" validate:"required_with=Password"`
	Password string `yaml:"password" validate:"required_with=Username"`
}

// Enabled reports whether credentials are configured.
func (a BrokerAuth) Enabled() bool {
	return a.Username != "" || a.Password != ""
}

// TraceConfig controls the inbound message trace file.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// AdvertiseConfig controls mDNS advertisement of the broker.
type AdvertiseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Domain   string `yaml:"domain"`
}

// MQTTConfig contains the uplink connection to the Gray Logic MQTT bus.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos" validate:"gte=0,lte=2"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	TopicRoot string              `yaml:"topic_root"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port" validate:"gte=1,lte=65535"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file" validate:"required_if=Enabled true"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for entity history.
type InfluxDBConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url" validate:"required_if=Enabled true"`
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org" validate:"required_if=Enabled true"`
	Bucket  string        `yaml:"bucket" validate:"required_if=Enabled true"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the circuit breaker around history writes.
type BreakerConfig struct {
	MaxFailures int `yaml:"max_failures" validate:"gte=1"`
	OpenTimeout int `yaml:"open_timeout" validate:"gte=1"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout stderr"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" validate:"gte=0"`
	Burst             int  `yaml:"burst" validate:"gte=0"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_BROKER_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/zwave.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Broker: BrokerConfig{
			Host:               "0.0.0.0",
			Port:               1883,
			TLS:                BrokerTLSConfig{Port: 8883},
			MaxProtocolVersion: 4,
			MaxPacketSize:      4096,
			DiscoveryPrefix:    "homeassistant",
			StatePrefix:        "zwave",
			Trace:              TraceConfig{Path: "./data/mqtt-messages.log"},
			Advertise:          AdvertiseConfig{Instance: "Gray Logic Z-Wave", Domain: "local."},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-zwave",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicRoot: "graylogic",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{Issuer: "graylogic-zwave"},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Broker
	if v := os.Getenv("GRAYLOGIC_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_BROKER_USERNAME"); v != "" {
		cfg.Broker.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Auth.Password = v
	}

	// MQTT uplink
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// minJWTSecretLength is the shortest accepted API signing secret.
const minJWTSecretLength = 32

// Validate checks the configuration for errors and security issues.
// Field rules come from the validate struct tags; cross-section rules are
// checked here. All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("configuration errors: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, describeFieldError(fe))
		}
	}

	if c.Broker.TLS.Enabled && c.Broker.TLS.Port == c.Broker.Port && c.Broker.Port != 0 {
		errs = append(errs, "broker.tls.port must differ from broker.port")
	}

	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// The API accepts commands that operate physical devices, so it never
	// runs without a signing secret.
	if c.API.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_if", "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gte", "lte", "gt":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// BreakerOpenTimeout returns the history breaker open period as a Duration.
func (c *Config) BreakerOpenTimeout() time.Duration {
	return time.Duration(c.InfluxDB.Breaker.OpenTimeout) * time.Second
}
