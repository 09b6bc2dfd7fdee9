package executors

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/autoflow/pkg/models"
)

var discard = slog.New(slog.DiscardHandler)

func testContext() models.ExecutionContext {
	return models.ExecutionContext{
		ExecutionID: "exec-1",
		OwnerID:     "owner-1",
		FlowID:      "flow-1",
		ContactID:   "contact-1",
		EventType:   models.ContactEventUpdated,
		EventData:   map[string]any{"first_name": "Ana", "stage": "qualified"},
	}
}

func whatsappAction() models.Action {
	return models.Action{Order: 2, Type: models.ActionWhatsAppMessage, Config: models.WhatsAppMessageConfig{
		ChannelID:  "channel-1",
		TemplateID: "tpl-1",
		Variables:  map[string]string{"name": "{{ .first_name }}"},
	}}
}

func TestSet_For(t *testing.T) {
	logExecutor := NewLogExecutor(discard)
	set := Uniform(logExecutor)

	for _, actionType := range []models.ActionType{models.ActionAICall, models.ActionWhatsAppMessage, models.ActionEmail} {
		executor, err := set.For(actionType)
		require.NoError(t, err)
		assert.Same(t, logExecutor, executor)
	}

	_, err := set.For(models.ActionWait)
	assert.ErrorIs(t, err, ErrWaitIsInternal)

	_, err = set.For("sms")
	assert.ErrorIs(t, err, models.ErrUnknownActionType)

	require.NoError(t, set.Validate())

	partial := Set{AICall: logExecutor}
	_, err = partial.For(models.ActionEmail)
	assert.ErrorIs(t, err, ErrNoExecutor)
	assert.ErrorIs(t, partial.Validate(), ErrNoExecutor)
}

func TestHTTPExecutor_Success(t *testing.T) {
	var received Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var raw map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))

		config := raw["config"].(map[string]any)
		variables := config["variables"].(map[string]any)
		assert.Equal(t, "Ana", variables["name"])

		received.ExecutionID = raw["execution_id"].(string)
		received.ActionOrder = int(raw["action_order"].(float64))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detail": {"message_id": "wamid-1"}}`))
	}))
	defer server.Close()

	executor := NewHTTPExecutor(EndpointConfig{
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	}, discard)

	action := whatsappAction()

	result, err := executor.Execute(t.Context(), action, testContext())
	require.NoError(t, err)
	assert.Equal(t, "wamid-1", result.Detail["message_id"])
	assert.Equal(t, http.StatusOK, result.Detail["status_code"])
	assert.Equal(t, "exec-1", received.ExecutionID)
	assert.Equal(t, 2, received.ActionOrder)

	original := action.Config.(models.WhatsAppMessageConfig)
	assert.Equal(t, "{{ .first_name }}", original.Variables["name"], "the action config is not modified")
}

func TestHTTPExecutor_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantFatal bool
		wantCalls int32
	}{
		{
			name:      "client error",
			status:    http.StatusUnprocessableEntity,
			body:      `{"error": "contact has no phone", "detail": {"reason": "no_phone"}}`,
			wantCalls: 1,
		},
		{
			name:      "fatal client error",
			status:    http.StatusBadRequest,
			body:      `{"error": "agent deleted", "fatal": true}`,
			wantFatal: true,
			wantCalls: 1,
		},
		{
			name:      "server error is retried",
			status:    http.StatusBadGateway,
			body:      `{"error": "upstream down"}`,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			executor := NewHTTPExecutor(EndpointConfig{
				URL:           server.URL,
				Retries:       2,
				RetryWaitTime: time.Millisecond,
			}, discard)

			_, err := executor.Execute(t.Context(), whatsappAction(), testContext())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCollaborator)
			assert.Equal(t, tt.wantFatal, IsFatal(err))
			assert.Equal(t, tt.status, DetailOf(err)["status_code"])
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestHTTPExecutor_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	executor := NewHTTPExecutor(EndpointConfig{URL: url, Timeout: time.Second}, discard)

	_, err := executor.Execute(t.Context(), whatsappAction(), testContext())
	require.Error(t, err)
	assert.False(t, IsFatal(err))

	var executionErr *ExecutionError
	require.ErrorAs(t, err, &executionErr)
	assert.Equal(t, models.ActionWhatsAppMessage, executionErr.ActionType)
}

func TestLogExecutor(t *testing.T) {
	executor := NewLogExecutor(discard)

	result, err := executor.Execute(t.Context(), models.Action{
		Order:  1,
		Type:   models.ActionEmail,
		Config: models.EmailConfig{TemplateID: "tpl-1", Subject: "Hi {{ .first_name }}"},
	}, testContext())
	require.NoError(t, err)
	assert.Equal(t, true, result.Detail["simulated"])
}

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(`
executors:
  ai_call:
    url: http://calls.internal/v1/actions
    timeout: 45s
    retries: 2
    headers:
      Authorization: Bearer xyz
  email:
    url: http://mail.internal/send
`))
	require.NoError(t, err)

	aiCall := config.Executors[models.ActionAICall]
	assert.Equal(t, 45*time.Second, aiCall.Timeout)
	assert.Equal(t, 2, aiCall.Retries)
	assert.Equal(t, "Bearer xyz", aiCall.Headers["Authorization"])

	set := config.Build(discard)
	require.NoError(t, set.Validate())
	assert.IsType(t, &HTTPExecutor{}, set.AICall)
	assert.IsType(t, &HTTPExecutor{}, set.Email)
	assert.IsType(t, &LogExecutor{}, set.WhatsAppMessage)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"wait endpoint":    "executors:\n  wait:\n    url: http://x\n",
		"unknown type":     "executors:\n  sms:\n    url: http://x\n",
		"missing url":      "executors:\n  email:\n    timeout: 1s\n",
		"negative retries": "executors:\n  email:\n    url: http://x\n    retries: -1\n",
		"not yaml":         "executors: [",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(data))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, config.Executors)

	_, err = LoadConfig(t.TempDir() + "/missing.yaml")
	assert.Error(t, err)
}
