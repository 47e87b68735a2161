package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer := NewRedisProducer(client, "")
	id, err := producer.PublishInbound(ctx, []byte(`{"message_text":"oi"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var mu sync.Mutex
	var got []*Delivery
	done := make(chan struct{})
	consumer := NewConsumer(client, ConsumerConfig{
		Group:    "agent-workers",
		Consumer: "w1",
		Block:    50 * time.Millisecond,
		Logger:   zerolog.Nop(),
		Handler: HandlerFunc(func(ctx context.Context, d *Delivery) error {
			mu.Lock()
			got = append(got, d)
			mu.Unlock()
			require.NoError(t, d.Ack(ctx))
			close(done)
			return nil
		}),
	})

	go func() { _ = consumer.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("message not consumed")
	}

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.JSONEq(t, `{"message_text":"oi"}`, string(got[0].Data))
	mu.Unlock()

	pending, err := client.XPending(ctx, StreamInbound, "agent-workers").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestConsumer_DeadLettersUnprocessable(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := NewRedisProducer(client, "").PublishInbound(ctx, []byte(`garbage`))
	require.NoError(t, err)

	handled := make(chan struct{}, 1)
	consumer := NewConsumer(client, ConsumerConfig{
		Group:    "agent-workers",
		Consumer: "w1",
		Block:    50 * time.Millisecond,
		Logger:   zerolog.Nop(),
		Handler: HandlerFunc(func(context.Context, *Delivery) error {
			handled <- struct{}{}
			return assert.AnError
		}),
	})
	go func() { _ = consumer.Run(ctx) }()

	select {
	case <-handled:
	case <-time.After(3 * time.Second):
		t.Fatal("message not consumed")
	}

	require.Eventually(t, func() bool {
		n, err := client.XLen(ctx, "dlq:"+StreamInbound).Result()
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)
}
