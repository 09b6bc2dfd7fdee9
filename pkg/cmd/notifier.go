package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/autoflow/pkg/cancellation"
)

// NewNotifier connects to Redis when redisURL is set. Without it, cancellation
// only reaches executions running in this process and the store status check
// catches the rest before their next dispatch.
func NewNotifier(ctx context.Context, redisURL string, logger *slog.Logger) (cancellation.Notifier, error) {
	if redisURL == "" {
		logger.InfoContext(ctx, "No Redis configured, cancellation notifications stay in process")

		return cancellation.NewLocalNotifier(logger), nil
	}

	return cancellation.NewRedisNotifier(ctx, redisURL, logger)
}
