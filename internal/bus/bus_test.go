package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KeepsOriginalBytes(t *testing.T) {
	raw := []byte(`{"type":"alert",  "data":{"id":"a1","priority":8}}`)

	m, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "alert", m.Type)
	assert.JSONEq(t, `{"id":"a1","priority":8}`, string(m.Data))

	out, err := m.Encode()
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{"data":{}}`, `[1,2]`} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestNewMessage(t *testing.T) {
	m, err := NewMessage(TypeResolved, map[string]string{"alert_id": "a1"})
	require.NoError(t, err)

	out, err := m.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"resolved","data":{"alert_id":"a1"}}`, string(out))
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus(8)
	defer b.Close()
	ctx := context.Background()

	s1, err := b.Subscribe(ctx, TopicAlerts)
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, TopicAlerts)
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, TopicDetections)
	require.NoError(t, err)

	msg, err := NewMessage(TypeAlert, map[string]any{"id": "a1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, TopicAlerts, msg))

	for _, s := range []Subscription{s1, s2} {
		got, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, TypeAlert, got.Type)
		assert.JSONEq(t, `{"id":"a1"}`, string(got.Data))
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = other.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBus_FullQueueDropsNewest(t *testing.T) {
	b := NewMemoryBus(2)
	defer b.Close()
	ctx := context.Background()

	s, err := b.Subscribe(ctx, TopicAlerts)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		m, _ := NewMessage(TypeAlert, i)
		require.NoError(t, b.Publish(ctx, TopicAlerts, m))
	}

	for _, want := range []string{"1", "2"} {
		got, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got.Data))
	}
}

func TestMemoryBus_CloseEndsSubscriptions(t *testing.T) {
	b := NewMemoryBus(2)
	ctx := context.Background()

	s, err := b.Subscribe(ctx, TopicAlerts)
	require.NoError(t, err)
	require.Equal(t, 1, b.Subscribers(TopicAlerts))

	require.NoError(t, b.Close())

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	_, err = b.Subscribe(ctx, TopicAlerts)
	assert.Error(t, err)
}

func TestMemorySub_Close(t *testing.T) {
	b := NewMemoryBus(2)
	defer b.Close()
	ctx := context.Background()

	s, err := b.Subscribe(ctx, TopicAlerts)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, 0, b.Subscribers(TopicAlerts))

	_, err = s.Next(ctx)
	assert.True(t, errors.Is(err, ErrSubscriptionClosed))
}

func TestOpen_Drivers(t *testing.T) {
	b, err := Open(Config{Driver: DriverMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBus{}, b)
	require.NoError(t, b.Close())

	_, err = Open(Config{Driver: "kafka"}, nil)
	assert.Error(t, err)

	_, err = Open(Config{Driver: DriverRedis, RedisURL: "::not-a-url"}, nil)
	assert.Error(t, err)
}
