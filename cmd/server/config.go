// Package main provides the sentinel server CLI.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/sentinel/internal/bus"
	"github.com/good-yellow-bee/sentinel/internal/storage"
)

// Backends for the rate limiter and the cooldown store.
const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Bus       BusConfig       `yaml:"bus"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Hub       HubConfig       `yaml:"hub"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Rules     RulesConfig     `yaml:"rules"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Verbose   bool            `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // websocket origins, empty allows all
}

// DatabaseConfig selects the SQL driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// BusConfig selects the publish/subscribe transport.
type BusConfig struct {
	Driver      string        `yaml:"driver"` // memory | redis | nats | mqtt
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Buffer      int           `yaml:"buffer"`
	NATS        NATSConfig    `yaml:"nats"`
	MQTT        MQTTConfig    `yaml:"mqtt"`
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"` // run an in-process server
	Port     int    `yaml:"port"`     // embedded server port
}

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// BridgeConfig tunes the bus to hub relay.
type BridgeConfig struct {
	EscalateAfter  int           `yaml:"escalate_after"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// HubConfig tunes websocket clients.
type HubConfig struct {
	SendBuffer      int           `yaml:"send_buffer"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	SystemInterval  time.Duration `yaml:"system_interval"`
	ReadIdleTimeout time.Duration `yaml:"read_idle_timeout"` // 0 disables
	MaxConnections  int           `yaml:"max_connections"`
	InboundRate     float64       `yaml:"inbound_rate"` // client messages per second
	InboundBurst    int           `yaml:"inbound_burst"`
}

// RateLimitConfig configures request rate limiting.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Backend  string        `yaml:"backend"` // memory | redis
}

// RulesConfig configures rule loading and evaluation.
type RulesConfig struct {
	File            string        `yaml:"file"` // optional YAML rules file
	Watch           bool          `yaml:"watch"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Timezone        string        `yaml:"timezone"`
	CooldownBackend string        `yaml:"cooldown_backend"` // memory | redis
}

// AuthConfig configures bearer token identity.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // empty: every caller is anonymous
	Issuer    string `yaml:"issuer"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// LoadConfig loads configuration from a YAML file. Fields missing from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		RateLimit: RateLimitConfig{Enabled: true},
		Metrics:   MetricsConfig{Enabled: true},
		Rules:     RulesConfig{Watch: true},
	}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = storage.DriverSQLite
	}
	if c.Database.DSN == "" && c.Database.Driver == storage.DriverSQLite {
		c.Database.DSN = "data/sentinel.db"
	}

	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = bus.DriverMemory
	}
	if c.Bus.ReadTimeout == 0 {
		c.Bus.ReadTimeout = bus.DefaultReadTimeout
	}
	if c.Bus.Buffer == 0 {
		c.Bus.Buffer = bus.DefaultBufferSize
	}
	if c.Bus.NATS.Port == 0 {
		c.Bus.NATS.Port = 4222
	}
	if c.Bus.MQTT.ClientID == "" {
		c.Bus.MQTT.ClientID = "sentinel-server"
	}
	if c.Bus.MQTT.QoS == 0 {
		c.Bus.MQTT.QoS = 1
	}

	if c.Bridge.EscalateAfter == 0 {
		c.Bridge.EscalateAfter = bus.DefaultEscalateAfter
	}
	if c.Bridge.BackoffInitial == 0 {
		c.Bridge.BackoffInitial = time.Second
	}
	if c.Bridge.BackoffMax == 0 {
		c.Bridge.BackoffMax = 30 * time.Second
	}

	if c.Hub.SendBuffer == 0 {
		c.Hub.SendBuffer = 64
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = 10 * time.Second
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = 30 * time.Second
	}
	if c.Hub.SystemInterval == 0 {
		c.Hub.SystemInterval = 30 * time.Second
	}
	if c.Hub.MaxConnections == 0 {
		c.Hub.MaxConnections = 1000
	}
	if c.Hub.InboundRate == 0 {
		c.Hub.InboundRate = 10
	}
	if c.Hub.InboundBurst == 0 {
		c.Hub.InboundBurst = 20
	}

	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 60 * time.Second
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = backendMemory
	}

	if c.Rules.RefreshInterval == 0 {
		c.Rules.RefreshInterval = 30 * time.Second
	}
	if c.Rules.Timezone == "" {
		c.Rules.Timezone = "UTC"
	}
	if c.Rules.CooldownBackend == "" {
		c.Rules.CooldownBackend = backendMemory
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// applyEnv overrides file values with SENTINEL_* environment variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	str("SENTINEL_HTTP_ADDR", &c.Server.HTTPAddress)
	str("SENTINEL_DB_DRIVER", &c.Database.Driver)
	str("SENTINEL_DB_DSN", &c.Database.DSN)
	str("SENTINEL_BUS_DRIVER", &c.Bus.Driver)
	str("SENTINEL_NATS_URL", &c.Bus.NATS.URL)
	str("SENTINEL_MQTT_BROKER", &c.Bus.MQTT.Broker)
	str("SENTINEL_JWT_SECRET", &c.Auth.JWTSecret)
	str("SENTINEL_LOG_LEVEL", &c.Log.Level)

	if v := getenv("SENTINEL_REDIS_URL"); v != "" {
		c.Redis.URL = v
		c.Redis.Enabled = true
	}
	if v := getenv("SENTINEL_RATE_LIMIT_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_RATE_LIMIT_REQUESTS: %w", err)
		}
		c.RateLimit.Requests = n
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	switch c.Bus.Driver {
	case bus.DriverMemory, bus.DriverRedis:
	case bus.DriverNATS:
		if c.Bus.NATS.URL == "" && !c.Bus.NATS.Embedded {
			return fmt.Errorf("bus.nats.url is required unless bus.nats.embedded is set")
		}
	case bus.DriverMQTT:
		if c.Bus.MQTT.Broker == "" {
			return fmt.Errorf("bus.mqtt.broker is required for the mqtt bus")
		}
		if c.Bus.MQTT.QoS < 0 || c.Bus.MQTT.QoS > 2 {
			return fmt.Errorf("bus.mqtt.qos must be 0, 1 or 2")
		}
	default:
		return fmt.Errorf("bus.driver must be memory, redis, nats or mqtt, got %q", c.Bus.Driver)
	}

	if err := checkBackend("rate_limit.backend", c.RateLimit.Backend); err != nil {
		return err
	}
	if err := checkBackend("rules.cooldown_backend", c.Rules.CooldownBackend); err != nil {
		return err
	}
	if c.usesRedis() && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}

	if c.RateLimit.Requests < 1 {
		return fmt.Errorf("rate_limit.requests must be positive")
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate_limit.window must be at least 1s")
	}
	if c.Bridge.BackoffMax < c.Bridge.BackoffInitial {
		return fmt.Errorf("bridge.backoff_max must not be less than bridge.backoff_initial")
	}
	if c.Hub.ReadIdleTimeout < 0 {
		return fmt.Errorf("hub.read_idle_timeout must not be negative")
	}

	if _, err := time.LoadLocation(c.Rules.Timezone); err != nil {
		return fmt.Errorf("rules.timezone: %w", err)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// usesRedis reports whether any component needs the Redis client.
func (c *Config) usesRedis() bool {
	return c.Redis.Enabled ||
		c.Bus.Driver == bus.DriverRedis ||
		(c.RateLimit.Enabled && c.RateLimit.Backend == backendRedis) ||
		c.Rules.CooldownBackend == backendRedis
}

func checkBackend(field, v string) error {
	switch v {
	case backendMemory, backendRedis:
		return nil
	default:
		return fmt.Errorf("%s must be memory or redis, got %q", field, v)
	}
}
