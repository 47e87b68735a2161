// Package messaging provides the Redis Streams queue for inbound events.
package messaging

import (
	"context"
	"fmt"

	"agent_server/core/port/out"

	"github.com/redis/go-redis/v9"
)

const (
	StreamInbound = "agent:inbound"

	// dataField holds the JSON payload of every stream entry.
	dataField = "data"
)

// RedisProducer implements out.InboundPublisher using Redis Streams.
type RedisProducer struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisProducer(client *redis.Client, stream string) *RedisProducer {
	if stream == "" {
		stream = StreamInbound
	}
	return &RedisProducer{client: client, stream: stream, maxLen: 100000}
}

var _ out.InboundPublisher = (*RedisProducer)(nil)

// PublishInbound appends a JSON-encoded inbound event and returns its stream id.
func (p *RedisProducer) PublishInbound(ctx context.Context, payload []byte) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			dataField: string(payload),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", p.stream, err)
	}
	return id, nil
}

func (p *RedisProducer) Stream() string {
	return p.stream
}
