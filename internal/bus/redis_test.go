package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/sentinel/internal/errs"
)

func newRedisBus(t *testing.T, readTimeout time.Duration) *RedisBus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBus(client, readTimeout)
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	b := newRedisBus(t, time.Second)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, TopicAlerts)
	require.NoError(t, err)
	defer sub.Close()

	msg, err := NewMessage(TypeAcknowledged, map[string]string{"alert_id": "a1", "acknowledged_by": "op"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, TopicAlerts, msg))

	got, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeAcknowledged, got.Type)
	assert.JSONEq(t, `{"alert_id":"a1","acknowledged_by":"op"}`, string(got.Data))
}

func TestRedisBus_ReadTimeoutIsTemporary(t *testing.T) {
	b := newRedisBus(t, 50*time.Millisecond)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, TopicDetections)
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.Next(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsTemporary(err), "expected temporary error, got %v", err)
}

func TestRedisBus_MalformedPayload(t *testing.T) {
	b := newRedisBus(t, time.Second)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, TopicAlerts)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.client.Publish(ctx, TopicAlerts, "garbage").Err())

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRedisBus_NextAfterClose(t *testing.T) {
	b := newRedisBus(t, time.Second)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, TopicAlerts)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}
