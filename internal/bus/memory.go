package bus

import (
	"context"
	"sync"

	"github.com/good-yellow-bee/sentinel/internal/errs"
)

// DefaultBufferSize is the per-subscription queue size for in-process and
// callback-driven transports.
const DefaultBufferSize = 256

// MemoryBus is an in-process bus. Each subscription has a bounded queue; a
// message published to a full queue is dropped for that subscriber.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	buffer int
	closed bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &MemoryBus{
		subs:   make(map[string]map[*memorySub]struct{}),
		buffer: buffer,
	}
}

// Publish fans msg out to every current subscriber of topic.
func (b *MemoryBus) Publish(_ context.Context, topic string, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &errs.TransportError{Op: "publish", Topic: topic, Err: ErrSubscriptionClosed}
	}
	for s := range b.subs[topic] {
		s.offer(payload)
	}
	return nil
}

// Subscribe opens a subscription on topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, &errs.TransportError{Op: "subscribe", Topic: topic, Err: ErrSubscriptionClosed}
	}
	s := &memorySub{
		bus:   b,
		topic: topic,
		ch:    make(chan []byte, b.buffer),
		done:  make(chan struct{}),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySub]struct{})
	}
	b.subs[topic][s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of open subscriptions on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close closes every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]map[*memorySub]struct{})
	b.closed = true
	b.mu.Unlock()

	for _, set := range subs {
		for s := range set {
			s.shutdown()
		}
	}
	return nil
}

type memorySub struct {
	bus   *MemoryBus
	topic string
	ch    chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *memorySub) offer(payload []byte) {
	select {
	case <-s.done:
	case s.ch <- payload:
	default:
	}
}

func (s *memorySub) Next(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-s.done:
		return Message{}, ErrSubscriptionClosed
	case payload := <-s.ch:
		return Decode(payload)
	}
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs[s.topic], s)
	s.bus.mu.Unlock()
	s.shutdown()
	return nil
}

func (s *memorySub) shutdown() {
	s.once.Do(func() { close(s.done) })
}
