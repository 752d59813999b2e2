package messaging

import (
	"context"
)

// Broker is the durable queue abstraction the pipeline is built against.
// Delivery is at-least-once; every consumer must be idempotent.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// WorkItem is the message published for each raw message that needs
// pipeline processing.
type WorkItem struct {
	RawMessageID string `json:"raw_message_id"`
}
