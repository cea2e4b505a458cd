package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"sdlc-wizard/internal/domain"

	"github.com/redis/go-redis/v9"
)

const DefaultEventChannel = "wizard:events"

// RedisEventBus broadcasts run events so every API replica can stream them.
type RedisEventBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisEventBus(client *redis.Client, logger *slog.Logger) *RedisEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisEventBus{
		client:  client,
		channel: DefaultEventChannel,
		logger:  logger.With("component", "event_bus"),
	}
}

// Publish is fire-and-forget: failures are logged, never returned.
func (b *RedisEventBus) Publish(ctx context.Context, runID string, event domain.Event) {
	event.RunID = runID
	// Serialize the struct to JSON
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("encode event", "run_id", runID, "error", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("publish event", "run_id", runID, "kind", event.Kind, "error", err)
	}
}

// Subscribe opens a continuous stream of events. The channel closes when
// ctx is done.
func (b *RedisEventBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// wait for the subscription confirmation so no event published after
	// Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	msgChan := make(chan domain.Event)

	// Start a background goroutine to listen to Redis and forward to our Go channel
	go func() {
		defer close(msgChan)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done(): // Handle shutdown gracefully
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("decode event", "error", err)
					continue
				}
				select {
				case msgChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return msgChan, nil
}
