package cancellation

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.DiscardHandler)

func collect(ch chan string) Listener {
	return func(_ context.Context, executionID string) {
		ch <- executionID
	}
}

func TestRedisNotifier_Broadcast(t *testing.T) {
	server := miniredis.RunT(t)
	url := "redis://" + server.Addr() + "/0"

	api, err := NewRedisNotifier(t.Context(), url, discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = api.Close() })

	workers := make([]*RedisNotifier, 2)
	received := make([]chan string, 2)

	for i := range workers {
		workers[i], err = NewRedisNotifier(t.Context(), url, discard)
		require.NoError(t, err)
		t.Cleanup(func() { _ = workers[i].Close() })

		received[i] = make(chan string, 1)
		require.NoError(t, workers[i].Listen(t.Context(), collect(received[i])))
	}

	require.NoError(t, api.Notify(t.Context(), "exec-1"))

	for i := range workers {
		select {
		case id := <-received[i]:
			assert.Equal(t, "exec-1", id)
		case <-time.After(5 * time.Second):
			t.Fatalf("worker %d did not hear the cancellation", i)
		}
	}
}

func TestRedisNotifier_ListenStopsWithContext(t *testing.T) {
	server := miniredis.RunT(t)

	notifier, err := NewRedisNotifier(t.Context(), "redis://"+server.Addr(), discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = notifier.Close() })

	ctx, cancel := context.WithCancel(t.Context())
	received := make(chan string, 1)
	require.NoError(t, notifier.Listen(ctx, collect(received)))

	cancel()

	require.Eventually(t, func() bool {
		return len(server.PubSubChannels("*")) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewRedisNotifier_Errors(t *testing.T) {
	_, err := NewRedisNotifier(t.Context(), "not a url", discard)
	require.Error(t, err)

	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	_, err = NewRedisNotifier(ctx, "redis://"+addr, discard)
	assert.Error(t, err)
}

func TestLocalNotifier(t *testing.T) {
	notifier := NewLocalNotifier(discard)

	first := make(chan string, 2)
	second := make(chan string, 2)

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, notifier.Listen(ctx, collect(first)))
	require.NoError(t, notifier.Listen(t.Context(), collect(second)))

	require.NoError(t, notifier.Notify(t.Context(), "exec-1"))
	assert.Equal(t, "exec-1", <-first)
	assert.Equal(t, "exec-1", <-second)

	cancel()

	require.NoError(t, notifier.Notify(t.Context(), "exec-2"))
	assert.Equal(t, "exec-2", <-second)
	assert.Empty(t, first)

	require.NoError(t, notifier.Close())
	require.NoError(t, notifier.Notify(t.Context(), "exec-3"))
	assert.Empty(t, second)
}
