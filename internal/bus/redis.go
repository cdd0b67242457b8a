package bus

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/good-yellow-bee/sentinel/internal/errs"
)

// DefaultReadTimeout bounds a single blocking read on network transports.
const DefaultReadTimeout = 5 * time.Second

// RedisBus publishes with PUBLISH and subscribes with SUBSCRIBE.
type RedisBus struct {
	client      *redis.Client
	readTimeout time.Duration
	ownsClient  bool
}

// NewRedisBus creates a bus over an existing client. The caller keeps
// ownership of the client.
func NewRedisBus(client *redis.Client, readTimeout time.Duration) *RedisBus {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &RedisBus{client: client, readTimeout: readTimeout}
}

// Publish sends msg to topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return &errs.TransportError{Op: "publish", Topic: topic, Err: err, Temporary: isTimeout(err)}
	}
	return nil
}

// Subscribe opens a subscription and waits for the server to confirm it.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, &errs.TransportError{Op: "subscribe", Topic: topic, Err: err}
	}
	return &redisSub{ps: ps, topic: topic, readTimeout: b.readTimeout}, nil
}

// Close releases the client if the bus created it.
func (b *RedisBus) Close() error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

type redisSub struct {
	ps          *redis.PubSub
	topic       string
	readTimeout time.Duration
	closed      atomic.Bool
}

func (s *redisSub) Next(ctx context.Context) (Message, error) {
	for {
		if s.closed.Load() {
			return Message{}, ErrSubscriptionClosed
		}

		v, err := s.ps.ReceiveTimeout(ctx, s.readTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			if s.closed.Load() {
				return Message{}, ErrSubscriptionClosed
			}
			return Message{}, &errs.TransportError{Op: "receive", Topic: s.topic, Err: err, Temporary: isTimeout(err)}
		}

		switch m := v.(type) {
		case *redis.Message:
			return Decode([]byte(m.Payload))
		case *redis.Subscription, *redis.Pong:
			continue
		default:
			continue
		}
	}
}

func (s *redisSub) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.ps.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
