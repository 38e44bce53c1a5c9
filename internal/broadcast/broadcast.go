// Package broadcast is the real-time push channel between the application
// and its connected clients. Delivery is at-least-once to current
// subscribers only; nothing is replayed for clients that reconnect, they
// re-fetch state through the synchronous API instead.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
	"github.com/redis/go-redis/v9"
)

// ImageUpdate is the per-image topic payload.
type ImageUpdate struct {
	ImageID     uuid.UUID     `json:"image_id"`
	Status      models.Status `json:"status"`
	Description *string       `json:"description,omitempty"`
}

// Broadcaster publishes updates to topics. Implementations must be safe
// for concurrent use.
type Broadcaster interface {
	PublishImage(ctx context.Context, update ImageUpdate) error
	PublishBulkProgress(ctx context.Context, progress models.BulkProgress) error
}

// Subscriber delivers raw topic messages to a single consumer, typically an
// SSE connection.
type Subscriber interface {
	// Subscribe returns a channel of marshalled payloads for the given
	// topics. The channel closes when ctx is cancelled.
	Subscribe(ctx context.Context, topics ...string) (<-chan Message, error)
}

// Message is one delivered broadcast payload.
type Message struct {
	Topic   string
	Payload []byte
}

// ImageTopic names the per-image channel.
func ImageTopic(imageID uuid.UUID) string {
	return fmt.Sprintf("image:%s", imageID)
}

// BulkProgressTopic is the single global bulk progress channel.
const BulkProgressTopic = "bulk:progress"

// RedisBroadcaster implements Broadcaster and Subscriber over Redis pub/sub.
type RedisBroadcaster struct {
	client *redis.Client
}

// NewRedisBroadcaster creates a RedisBroadcaster from a Redis URL.
func NewRedisBroadcaster(redisURL string) (*RedisBroadcaster, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisBroadcaster{client: redis.NewClient(opts)}, nil
}

// NewRedisBroadcasterFromClient wraps an existing client.
func NewRedisBroadcasterFromClient(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}

func (b *RedisBroadcaster) PublishImage(ctx context.Context, update ImageUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal image update: %w", err)
	}
	return b.client.Publish(ctx, ImageTopic(update.ImageID), payload).Err()
}

func (b *RedisBroadcaster) PublishBulkProgress(ctx context.Context, progress models.BulkProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal bulk progress: %w", err)
	}
	return b.client.Publish(ctx, BulkProgressTopic, payload).Err()
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, topics ...string) (<-chan Message, error) {
	sub := b.client.Subscribe(ctx, topics...)
	// Force the subscription to be established before returning so a
	// publish immediately after Subscribe is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Message, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
				default:
					// Slow consumer; drop rather than block the fan-out.
					slog.Warn("broadcast subscriber lagging, dropping message", "topic", msg.Channel)
				}
			}
		}
	}()
	return out, nil
}

var _ Broadcaster = (*RedisBroadcaster)(nil)
var _ Subscriber = (*RedisBroadcaster)(nil)
