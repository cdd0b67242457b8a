package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/errs"
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// Timeout bounds connect, publish and subscribe round trips.
	Timeout time.Duration
	Buffer  int
}

// MQTTBus maps topics onto MQTT topics. One broker subscription per topic
// is shared by all local subscriptions on it. A lost connection closes
// every subscription so the bridge resubscribes after reconnect.
type MQTTBus struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	buffer  int
	logger  *zap.Logger

	mu     sync.Mutex
	topics map[string]map[*mqttSub]struct{}
}

// ConnectMQTT connects to the broker.
func ConnectMQTT(cfg MQTTConfig, logger *zap.Logger) (*MQTTBus, error) {
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid MQTT qos %d", cfg.QoS)
	}
	b := newMQTTBus(nil, cfg, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(b.timeout)
	opts.SetConnectionLostHandler(b.onConnectionLost)

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(b.timeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return b, nil
}

// newMQTTBus wraps client. The connection-lost handler must be wired to
// onConnectionLost by whoever built client.
func newMQTTBus(client mqtt.Client, cfg MQTTConfig, logger *zap.Logger) *MQTTBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBufferSize
	}
	return &MQTTBus{
		client:  client,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		buffer:  cfg.Buffer,
		logger:  logger.With(zap.String("component", "mqtt_bus")),
		topics:  make(map[string]map[*mqttSub]struct{}),
	}
}

// Publish sends msg to topic at the configured QoS.
func (b *MQTTBus) Publish(_ context.Context, topic string, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	token := b.client.Publish(topic, b.qos, false, payload)
	if !token.WaitTimeout(b.timeout) {
		return &errs.TransportError{Op: "publish", Topic: topic, Err: fmt.Errorf("timeout"), Temporary: true}
	}
	if err := token.Error(); err != nil {
		return &errs.TransportError{Op: "publish", Topic: topic, Err: err}
	}
	return nil
}

// Subscribe opens a subscription on topic.
func (b *MQTTBus) Subscribe(_ context.Context, topic string) (Subscription, error) {
	if !b.client.IsConnectionOpen() {
		return nil, &errs.TransportError{Op: "subscribe", Topic: topic, Err: fmt.Errorf("not connected")}
	}

	s := &mqttSub{
		bus:   b,
		topic: topic,
		ch:    make(chan []byte, b.buffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if set, ok := b.topics[topic]; ok {
		set[s] = struct{}{}
		b.mu.Unlock()
		return s, nil
	}
	b.mu.Unlock()

	// Tokens are never awaited under mu; dispatch needs it.
	token := b.client.Subscribe(topic, b.qos, func(_ mqtt.Client, m mqtt.Message) {
		b.dispatch(topic, m.Payload())
	})
	if !token.WaitTimeout(b.timeout) {
		return nil, &errs.TransportError{Op: "subscribe", Topic: topic, Err: fmt.Errorf("timeout")}
	}
	if err := token.Error(); err != nil {
		return nil, &errs.TransportError{Op: "subscribe", Topic: topic, Err: err}
	}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*mqttSub]struct{})
	}
	b.topics[topic][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

func (b *MQTTBus) dispatch(topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.topics[topic] {
		s.offer(payload)
	}
}

func (b *MQTTBus) remove(s *mqttSub) {
	b.mu.Lock()
	set, ok := b.topics[s.topic]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(set, s)
	last := len(set) == 0
	if last {
		delete(b.topics, s.topic)
	}
	b.mu.Unlock()

	if !last || !b.client.IsConnectionOpen() {
		return
	}
	token := b.client.Unsubscribe(s.topic)
	if token.WaitTimeout(b.timeout) && token.Error() != nil {
		b.logger.Warn("unsubscribe failed", zap.String("topic", s.topic), zap.Error(token.Error()))
	}
}

func (b *MQTTBus) onConnectionLost(_ mqtt.Client, err error) {
	b.logger.Warn("mqtt connection lost", zap.Error(err))
	b.closeAll()
}

func (b *MQTTBus) closeAll() {
	b.mu.Lock()
	topics := b.topics
	b.topics = make(map[string]map[*mqttSub]struct{})
	b.mu.Unlock()

	for _, set := range topics {
		for s := range set {
			s.shutdown()
		}
	}
}

// Close disconnects from the broker.
func (b *MQTTBus) Close() error {
	b.closeAll()
	b.client.Disconnect(250)
	return nil
}

type mqttSub struct {
	bus   *MQTTBus
	topic string
	ch    chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *mqttSub) offer(payload []byte) {
	select {
	case <-s.done:
	case s.ch <- payload:
	default:
		s.bus.logger.Warn("subscription queue full, dropping message", zap.String("topic", s.topic))
	}
}

func (s *mqttSub) Next(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-s.done:
		return Message{}, ErrSubscriptionClosed
	case payload := <-s.ch:
		return Decode(payload)
	}
}

func (s *mqttSub) Close() error {
	s.bus.remove(s)
	s.shutdown()
	return nil
}

func (s *mqttSub) shutdown() {
	s.once.Do(func() { close(s.done) })
}
