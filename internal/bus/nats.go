package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/errs"
)

// NATSBus publishes and subscribes on NATS subjects named after topics.
type NATSBus struct {
	conn        *nats.Conn
	readTimeout time.Duration
	logger      *zap.Logger
}

// ConnectNATS dials url and returns a bus that owns the connection.
func ConnectNATS(url string, readTimeout time.Duration, logger *zap.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "nats_bus"))

	nc, err := nats.Connect(url,
		nats.Name("sentinel"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSBus(nc, readTimeout, logger), nil
}

// NewNATSBus wraps an existing connection.
func NewNATSBus(nc *nats.Conn, readTimeout time.Duration, logger *zap.Logger) *NATSBus {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBus{conn: nc, readTimeout: readTimeout, logger: logger}
}

// Publish sends msg on the subject named topic.
func (b *NATSBus) Publish(_ context.Context, topic string, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := b.conn.Publish(topic, payload); err != nil {
		return &errs.TransportError{Op: "publish", Topic: topic, Err: err}
	}
	return nil
}

// Subscribe opens a synchronous subscription on topic.
func (b *NATSBus) Subscribe(_ context.Context, topic string) (Subscription, error) {
	sub, err := b.conn.SubscribeSync(topic)
	if err != nil {
		return nil, &errs.TransportError{Op: "subscribe", Topic: topic, Err: err}
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, &errs.TransportError{Op: "subscribe", Topic: topic, Err: err}
	}
	return &natsSub{sub: sub, topic: topic, readTimeout: b.readTimeout}, nil
}

// Close drains and closes the connection.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

type natsSub struct {
	sub         *nats.Subscription
	topic       string
	readTimeout time.Duration
}

func (s *natsSub) Next(ctx context.Context) (Message, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	m, err := s.sub.NextMsgWithContext(readCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout), errors.Is(err, nats.ErrSlowConsumer):
			return Message{}, &errs.TransportError{Op: "receive", Topic: s.topic, Err: err, Temporary: true}
		case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
			return Message{}, ErrSubscriptionClosed
		default:
			return Message{}, &errs.TransportError{Op: "receive", Topic: s.topic, Err: err}
		}
	}
	return Decode(m.Data)
}

func (s *natsSub) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}
