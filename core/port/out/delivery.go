package out

import (
	"context"
	"time"
)

// DeliveryTarget identifies where a reply goes on the messaging provider.
type DeliveryTarget struct {
	RemoteJID    string         `json:"remote_jid"`
	InstanceData map[string]any `json:"instance_data,omitempty"`
}

type MessageSender interface {
	Send(ctx context.Context, target *DeliveryTarget, text string) error
}

// Deduplicator marks inbound message ids as seen. First reports true the first time a key is seen.
type Deduplicator interface {
	First(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// InboundPublisher enqueues inbound events for asynchronous processing.
type InboundPublisher interface {
	PublishInbound(ctx context.Context, payload []byte) (string, error)
}
