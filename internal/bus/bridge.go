package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/sentinel/internal/errs"
	"github.com/good-yellow-bee/sentinel/internal/hub"
	"github.com/good-yellow-bee/sentinel/internal/metrics"
)

// DefaultEscalateAfter is the number of consecutive subscription failures
// after which a route is reported unhealthy.
const DefaultEscalateAfter = 5

// Broadcaster fans a payload out to the connections of a channel.
type Broadcaster interface {
	Broadcast(ch hub.Channel, payload []byte) int
}

// Route relays one bus topic to one hub channel.
type Route struct {
	Topic   string
	Channel hub.Channel
}

// DefaultRoutes relays alert and detection updates.
func DefaultRoutes() []Route {
	return []Route{
		{Topic: TopicAlerts, Channel: hub.ChannelAlerts},
		{Topic: TopicDetections, Channel: hub.ChannelDetections},
	}
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Routes         []Route
	EscalateAfter  int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c *BridgeConfig) setDefaults() {
	if len(c.Routes) == 0 {
		c.Routes = DefaultRoutes()
	}
	if c.EscalateAfter <= 0 {
		c.EscalateAfter = DefaultEscalateAfter
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// Bridge subscribes to bus topics and relays every message verbatim to the
// hub. Each route owns exactly one subscription at a time and replaces it
// with exponential backoff when the transport fails.
type Bridge struct {
	sub    Subscriber
	out    Broadcaster
	cfg    BridgeConfig
	logger *zap.Logger

	mu       sync.Mutex
	failures map[string]int
}

// NewBridge creates a bridge from sub to out.
func NewBridge(sub Subscriber, out Broadcaster, cfg BridgeConfig, logger *zap.Logger) *Bridge {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.BridgeHealthy.Set(1)
	return &Bridge{
		sub:      sub,
		out:      out,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "bridge")),
		failures: make(map[string]int),
	}
}

// Run relays until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range b.cfg.Routes {
		r := r
		g.Go(func() error {
			b.runRoute(ctx, r)
			return nil
		})
	}
	return g.Wait()
}

// Healthy reports whether no route has reached the escalation threshold.
func (b *Bridge) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthyLocked()
}

func (b *Bridge) healthyLocked() bool {
	for _, n := range b.failures {
		if n >= b.cfg.EscalateAfter {
			return false
		}
	}
	return true
}

func (b *Bridge) runRoute(ctx context.Context, r Route) {
	delay := newRetryDelay(b.cfg.BackoffInitial, b.cfg.BackoffMax)
	logger := b.logger.With(zap.String("topic", r.Topic), zap.String("channel", string(r.Channel)))

	for ctx.Err() == nil {
		sub, err := b.sub.Subscribe(ctx, r.Topic)
		if err == nil {
			b.recordSuccess(r, logger)
			err = b.pump(ctx, r, sub, delay, logger)
			_ = sub.Close()
		}
		if ctx.Err() != nil {
			return
		}

		escalated := b.recordFailure(r, err, logger)
		metrics.BridgeResubscribesTotal.WithLabelValues(r.Topic).Inc()

		if escalated {
			if sleep(ctx, b.cfg.BackoffMax) != nil {
				return
			}
			continue
		}
		if delay.wait(ctx) != nil {
			return
		}
	}
}

func (b *Bridge) pump(ctx context.Context, r Route, sub Subscription, delay *retryDelay, logger *zap.Logger) error {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, ErrMalformed):
				metrics.BridgeDroppedTotal.WithLabelValues(r.Topic).Inc()
				logger.Warn("dropping malformed message", zap.Error(err))
				continue
			case errs.IsTemporary(err):
				continue
			default:
				return err
			}
		}

		payload, err := msg.Encode()
		if err != nil {
			logger.Warn("dropping unencodable message", zap.Error(err))
			continue
		}
		n := b.out.Broadcast(r.Channel, payload)
		metrics.BridgeRelayedTotal.WithLabelValues(r.Topic).Inc()
		logger.Debug("relayed message", zap.String("type", msg.Type), zap.Int("receivers", n))
		delay.reset()
	}
}

func (b *Bridge) recordSuccess(r Route, logger *zap.Logger) {
	b.mu.Lock()
	prev := b.failures[r.Topic]
	delete(b.failures, r.Topic)
	healthy := b.healthyLocked()
	b.mu.Unlock()

	if healthy {
		metrics.BridgeHealthy.Set(1)
	}
	if prev > 0 {
		logger.Info("resubscribed", zap.Int("after_failures", prev))
	} else {
		logger.Info("subscribed")
	}
}

// recordFailure counts a failure and reports whether the route is escalated.
func (b *Bridge) recordFailure(r Route, err error, logger *zap.Logger) bool {
	b.mu.Lock()
	b.failures[r.Topic]++
	n := b.failures[r.Topic]
	b.mu.Unlock()

	if n >= b.cfg.EscalateAfter {
		metrics.BridgeHealthy.Set(0)
		logger.Error("subscription keeps failing, retrying at max interval",
			zap.Int("consecutive_failures", n),
			zap.Duration("retry_interval", b.cfg.BackoffMax),
			zap.Error(err))
		return true
	}
	logger.Warn("subscription failed, resubscribing",
		zap.Int("consecutive_failures", n),
		zap.Error(err))
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
