package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/autoflow/pkg/cancellation"
	"github.com/dukex/autoflow/pkg/channels/gochannel"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/executors"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/dukex/autoflow/pkg/worker"
)

const owner = "owner-1"

var discard = slog.New(slog.DiscardHandler)

func setupTestApp(t *testing.T, store persistence.Persistence, bus eventbus.EventPublisher) *fiber.App {
	t.Helper()

	return NewAPI(discard, store, bus, cancellation.NewLocalNotifier(discard), nil).App()
}

func request(app *fiber.App, method, path string, body any) (int, []byte, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.OwnerHeader, owner)

	resp, err := app.Test(req)
	if err != nil {
		return 0, nil, err
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)

	return resp.StatusCode, data, err
}

func send(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	status, data, err := request(app, method, path, body)
	require.NoError(t, err)

	return status, data
}

func TestAPI_RootEndpoint(t *testing.T) {
	store, err := file.NewPersistence(discard, t.TempDir())
	require.NoError(t, err)

	app := setupTestApp(t, store, nil)

	status, body := send(t, app, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Autoflow API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	store, err := file.NewPersistence(discard, t.TempDir())
	require.NoError(t, err)

	app := setupTestApp(t, store, nil)

	for _, path := range []string{"/livez", "/readyz"} {
		status, body := send(t, app, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "OK", string(body))
	}
}

func TestAPI_FlowsSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := file.NewPersistence(discard, dir)
	require.NoError(t, err)

	status, body := send(t, setupTestApp(t, store, nil), http.MethodPost, "/flows", map[string]any{
		"name":       "Welcome",
		"conditions": []map[string]any{{"type": "stage_equals", "value": "qualified"}},
		"actions":    []map[string]any{{"order": 1, "type": "email", "config": map[string]any{"template_id": "tpl"}}},
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	require.NoError(t, store.Close(t.Context()))

	var created models.Flow
	require.NoError(t, json.Unmarshal(body, &created))

	reopened, err := file.NewPersistence(discard, dir)
	require.NoError(t, err)

	status, body = send(t, setupTestApp(t, reopened, nil), http.MethodGet, "/flows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var loaded models.Flow
	require.NoError(t, json.Unmarshal(body, &loaded))
	assert.Equal(t, "Welcome", loaded.Name)
	require.Len(t, loaded.Actions, 1)
	assert.Equal(t, models.ActionEmail, loaded.Actions[0].Type)
}

func TestAPI_TestRunWithEmbeddedWorker(t *testing.T) {
	store, err := file.NewPersistence(discard, t.TempDir())
	require.NoError(t, err)

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, discard)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	manager, err := worker.NewWorkerManager("embedded", store, bus, cancellation.NewLocalNotifier(discard),
		executors.Uniform(executors.NewLogExecutor(discard)), discard, worker.Config{Clock: clockwork.NewRealClock()})
	require.NoError(t, err)
	require.NoError(t, manager.Start(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = manager.Stop(ctx)
	})

	app := setupTestApp(t, store, bus)

	status, body := send(t, app, http.MethodPost, "/flows", map[string]any{
		"name":       "Draft",
		"enabled":    false,
		"conditions": []map[string]any{{"type": "stage_equals", "value": "lost"}},
		"actions":    []map[string]any{{"order": 1, "type": "whatsapp_message", "config": map[string]any{"channel_id": "ch-1", "template_id": "tpl"}}},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var flow models.Flow
	require.NoError(t, json.Unmarshal(body, &flow))

	status, body = send(t, app, http.MethodPost, "/flows/"+flow.ID+"/test-run", map[string]any{"contact_id": "contact-1"})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var listed struct {
		Executions []models.Execution `json:"executions"`
	}

	require.Eventually(t, func() bool {
		code, data, err := request(app, http.MethodGet, "/executions?is_test_run=true", nil)
		if err != nil || code != http.StatusOK || json.Unmarshal(data, &listed) != nil {
			return false
		}

		return len(listed.Executions) == 1 && listed.Executions[0].Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, flow.ID, listed.Executions[0].FlowID)
	assert.True(t, listed.Executions[0].IsTestRun)
}
