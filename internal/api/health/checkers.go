package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Pinger interface for databases that support ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks SQL database connectivity.
type DatabaseChecker struct {
	pinger Pinger
}

// NewDatabaseChecker creates a new database health checker.
func NewDatabaseChecker(p Pinger) *DatabaseChecker {
	return &DatabaseChecker{pinger: p}
}

// Name returns the checker name.
func (c *DatabaseChecker) Name() string {
	return "database"
}

// Check verifies the database is accessible.
func (c *DatabaseChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.pinger.Ping(ctx)
}

// RedisChecker checks Redis connectivity.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Name returns the checker name.
func (c *RedisChecker) Name() string {
	return "redis"
}

// Check verifies Redis answers PING.
func (c *RedisChecker) Check(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis not configured")
	}
	return c.client.Ping(ctx).Err()
}

// BridgeChecker reports whether the bus bridge is relaying.
type BridgeChecker struct {
	healthy func() bool
}

// NewBridgeChecker creates a new bridge health checker.
func NewBridgeChecker(healthy func() bool) *BridgeChecker {
	return &BridgeChecker{healthy: healthy}
}

// Name returns the checker name.
func (c *BridgeChecker) Name() string {
	return "bus_bridge"
}

// Check fails while the bridge cannot hold its subscriptions.
func (c *BridgeChecker) Check(ctx context.Context) error {
	if c.healthy == nil || !c.healthy() {
		return errors.New("bus bridge disconnected")
	}
	return nil
}
