package bus

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Transport drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverMQTT   = "mqtt"
)

// Config selects and configures a transport.
type Config struct {
	Driver      string
	ReadTimeout time.Duration
	Buffer      int

	// RedisURL is used when Driver is redis and RedisClient is nil.
	RedisURL    string
	RedisClient *redis.Client

	NATSURL string
	MQTT    MQTTConfig
}

// Open connects the transport named by cfg.Driver.
func Open(cfg Config, logger *zap.Logger) (Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryBus(cfg.Buffer), nil

	case DriverRedis:
		if cfg.RedisClient != nil {
			return NewRedisBus(cfg.RedisClient, cfg.ReadTimeout), nil
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		b := NewRedisBus(redis.NewClient(opts), cfg.ReadTimeout)
		b.ownsClient = true
		return b, nil

	case DriverNATS:
		return ConnectNATS(cfg.NATSURL, cfg.ReadTimeout, logger)

	case DriverMQTT:
		mc := cfg.MQTT
		if mc.Buffer == 0 {
			mc.Buffer = cfg.Buffer
		}
		return ConnectMQTT(mc, logger)

	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}
