package executors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

var ErrCollaborator = errors.New("collaborator rejected the action")

// Request is the body posted to a collaborator.
type Request struct {
	ExecutionID string              `json:"execution_id"`
	OwnerID     string              `json:"owner_id"`
	FlowID      string              `json:"flow_id"`
	ContactID   string              `json:"contact_id"`
	ActionOrder int                 `json:"action_order"`
	ActionType  models.ActionType   `json:"action_type"`
	Config      models.ActionConfig `json:"config"`
	EventType   string              `json:"event_type,omitempty"`
	EventData   map[string]any      `json:"event_data,omitempty"`
	IsTestRun   bool                `json:"is_test_run"`
}

// Response is what a collaborator answers. Fatal asks the engine to stop the sequence.
type Response struct {
	Detail map[string]any `json:"detail"`
	Error  string         `json:"error"`
	Fatal  bool           `json:"fatal"`
}

// HTTPExecutor forwards actions to a collaborator over HTTP. Server errors and
// rate limiting are retried; any other non-2xx answer is a failure.
type HTTPExecutor struct {
	url    string
	client *resty.Client
	logger *slog.Logger
}

func NewHTTPExecutor(config EndpointConfig, logger *slog.Logger) *HTTPExecutor {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	retryWait := config.RetryWaitTime
	if retryWait <= 0 {
		retryWait = defaultRetryWaitTime
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(config.Retries).
		SetRetryWaitTime(retryWait).
		SetHeaders(config.Headers).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}

			return resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests
		})

	return &HTTPExecutor{
		url:    config.URL,
		client: client,
		logger: logger.With("module", "http_executor"),
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, action models.Action, executionCtx models.ExecutionContext) (Result, error) {
	config, err := renderConfig(action.Config, executionCtx)
	if err != nil {
		return Result{}, &ExecutionError{ActionType: action.Type, Err: errors.Join(ErrFatal, err)}
	}

	body := Request{
		ExecutionID: executionCtx.ExecutionID,
		OwnerID:     executionCtx.OwnerID,
		FlowID:      executionCtx.FlowID,
		ContactID:   executionCtx.ContactID,
		ActionOrder: action.Order,
		ActionType:  action.Type,
		Config:      config,
		EventType:   executionCtx.EventType,
		EventData:   executionCtx.EventData,
		IsTestRun:   executionCtx.IsTestRun,
	}

	var (
		success Response
		failure Response
	)

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&success).
		SetError(&failure).
		Post(e.url)
	if err != nil {
		return Result{}, &ExecutionError{ActionType: action.Type, Err: fmt.Errorf("request failed: %w", err)}
	}

	e.logger.DebugContext(ctx, "Collaborator answered",
		"execution_id", executionCtx.ExecutionID,
		"action_order", action.Order,
		"status_code", resp.StatusCode())

	if resp.IsError() {
		detail := failure.Detail
		if detail == nil {
			detail = make(map[string]any)
		}

		detail["status_code"] = resp.StatusCode()

		cause := fmt.Errorf("%w: status %d: %s", ErrCollaborator, resp.StatusCode(), failure.Error)
		if failure.Fatal {
			cause = errors.Join(ErrFatal, cause)
		}

		return Result{}, &ExecutionError{ActionType: action.Type, Detail: detail, Err: cause}
	}

	detail := success.Detail
	if detail == nil {
		detail = make(map[string]any)
	}

	detail["status_code"] = resp.StatusCode()

	return Result{Detail: detail}, nil
}

// renderConfig fills templated text fields of a config from the execution context.
func renderConfig(config models.ActionConfig, executionCtx models.ExecutionContext) (models.ActionConfig, error) {
	switch c := config.(type) {
	case models.WhatsAppMessageConfig:
		variables, err := template.RenderMap(c.Variables, executionCtx)
		if err != nil {
			return nil, err
		}

		c.Variables = variables

		return c, nil
	case models.EmailConfig:
		subject, err := template.RenderWithContext(c.Subject, executionCtx)
		if err != nil {
			return nil, err
		}

		c.Subject = subject

		return c, nil
	}

	return config, nil
}
