// Package cancellation fans a cancel request out to the worker that owns the
// running execution.
package cancellation

import (
	"context"
	"log/slog"
	"sync"
)

// Listener is called with the id of every execution whose cancellation was announced.
type Listener func(ctx context.Context, executionID string)

// Notifier announces cancellations and delivers them to listeners.
type Notifier interface {
	Notify(ctx context.Context, executionID string) error
	Listen(ctx context.Context, fn Listener) error
	Close() error
}

// LocalNotifier delivers cancellations inside one process.
type LocalNotifier struct {
	mu        sync.Mutex
	listeners []listener
	logger    *slog.Logger
}

type listener struct {
	ctx context.Context
	fn  Listener
}

func NewLocalNotifier(logger *slog.Logger) *LocalNotifier {
	return &LocalNotifier{logger: logger.With("module", "local_cancellation")}
}

func (n *LocalNotifier) Notify(ctx context.Context, executionID string) error {
	n.mu.Lock()

	active := n.listeners[:0]
	for _, l := range n.listeners {
		if l.ctx.Err() == nil {
			active = append(active, l)
		}
	}

	n.listeners = active
	listeners := append([]listener(nil), active...)
	n.mu.Unlock()

	n.logger.DebugContext(ctx, "Delivering cancellation", "execution_id", executionID, "listeners", len(listeners))

	for _, l := range listeners {
		l.fn(l.ctx, executionID)
	}

	return nil
}

// Listen registers fn until ctx is done.
func (n *LocalNotifier) Listen(ctx context.Context, fn Listener) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.listeners = append(n.listeners, listener{ctx: ctx, fn: fn})

	return nil
}

func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.listeners = nil

	return nil
}
