package cancellation

import (
	"context"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

const Channel = "autoflow:executions:cancel"

// RedisNotifier broadcasts cancellations over Redis pub/sub so every worker
// process hears them.
type RedisNotifier struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisNotifier connects to the Redis server at url (redis://host:port/db).
func NewRedisNotifier(ctx context.Context, url string, logger *slog.Logger) (*RedisNotifier, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisNotifierWithClient(client, logger), nil
}

func NewRedisNotifierWithClient(client redis.UniversalClient, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		logger: logger.With("module", "redis_cancellation", "channel", Channel),
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, executionID string) error {
	if err := n.client.Publish(ctx, Channel, executionID).Err(); err != nil {
		return fmt.Errorf("failed to publish cancellation: %w", err)
	}

	return nil
}

// Listen subscribes to the cancellation channel and calls fn for every
// message until ctx is done. It returns once the subscription is active.
func (n *RedisNotifier) Listen(ctx context.Context, fn Listener) error {
	pubsub := n.client.Subscribe(ctx, Channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return fmt.Errorf("failed to subscribe to cancellations: %w", err)
	}

	n.logger.InfoContext(ctx, "Listening for cancellations")

	go func() {
		defer pubsub.Close()

		messages := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				n.logger.InfoContext(ctx, "Cancellation listener stopped")

				return
			case msg, ok := <-messages:
				if !ok {
					return
				}

				fn(ctx, msg.Payload)
			}
		}
	}()

	return nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
