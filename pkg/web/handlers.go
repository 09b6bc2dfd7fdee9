// Package web provides the REST API over flows, priorities and executions.
package web

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/services"
)

type APIHandlers struct {
	flows      *services.Flow
	priorities *services.Priority
	executions *services.Execution
	statistics *services.Statistics
	publisher  eventbus.EventPublisher
	validator  *validator.Validate
	clock      clockwork.Clock
}

func NewAPIHandlers(
	flows *services.Flow,
	priorities *services.Priority,
	executions *services.Execution,
	statistics *services.Statistics,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
	clock clockwork.Clock,
) *APIHandlers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &APIHandlers{
		flows:      flows,
		priorities: priorities,
		executions: executions,
		statistics: statistics,
		publisher:  publisher,
		validator:  validator,
		clock:      clock,
	}
}

// RequireOwner rejects requests without an owner identity.
func RequireOwner(c fiber.Ctx) error {
	if c.Get(OwnerHeader) == "" {
		return badRequest(c, OwnerHeader+" header is required")
	}

	return c.Next()
}

func owner(c fiber.Ctx) string {
	return c.Get(OwnerHeader)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.flows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Autoflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Autoflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": h.clock.Now().UTC(),
	})
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	enabledOnly := false

	if value := c.Query("enabled_only"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		enabledOnly = parsed
	}

	flows, err := h.flows.List(c.Context(), owner(c), enabledOnly)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows":       flows,
		"total_count": len(flows),
	})
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.flows.Create(c.Context(), services.CreateFlowRequest{
		OwnerID:       owner(c),
		Name:          req.Name,
		Description:   req.Description,
		Enabled:       req.Enabled,
		Priority:      req.Priority,
		BusinessHours: req.BusinessHours,
		FailurePolicy: req.FailurePolicy,
		Conditions:    req.Conditions,
		Actions:       req.Actions,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flows.Get(c.Context(), owner(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.flows.Update(c.Context(), owner(c), c.Params("id"), services.UpdateFlowRequest{
		Name:               req.Name,
		Description:        req.Description,
		Enabled:            req.Enabled,
		Priority:           req.Priority,
		ClearPriority:      req.ClearPriority,
		BusinessHours:      req.BusinessHours,
		ClearBusinessHours: req.ClearBusinessHours,
		FailurePolicy:      req.FailurePolicy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	deleted, err := h.flows.Delete(c.Context(), owner(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !deleted {
		return notFound(c, "Flow not found")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SetFlowEnabled(c fiber.Ctx) error {
	var req SetEnabledRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flows.ToggleEnabled(c.Context(), owner(c), c.Params("id"), *req.Enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ReplaceConditions(c fiber.Ctx) error {
	var req ReplaceConditionsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	flow, err := h.flows.ReplaceConditions(c.Context(), owner(c), c.Params("id"), req.Conditions)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ReplaceActions(c fiber.Ctx) error {
	var req ReplaceActionsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	flow, err := h.flows.ReplaceActions(c.Context(), owner(c), c.Params("id"), req.Actions)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) NextPriority(c fiber.Ctx) error {
	next, err := h.priorities.NextAvailablePriority(c.Context(), owner(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"priority": next})
}

func (h *APIHandlers) PriorityAvailable(c fiber.Ctx) error {
	priority, err := strconv.Atoi(c.Query("priority"))
	if err != nil {
		return badRequest(c, "Invalid query parameters: priority must be an integer")
	}

	available, err := h.priorities.IsPriorityAvailable(c.Context(), owner(c), priority, c.Query("exclude_flow_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"priority": priority, "available": available})
}

func (h *APIHandlers) ReassignPriorities(c fiber.Ctx) error {
	var req ReassignPrioritiesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.priorities.BulkReassign(c.Context(), owner(c), req.Assignments); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) FlowStatistics(c fiber.Ctx) error {
	flowID := c.Params("id")

	actions, err := h.statistics.ActionStatistics(c.Context(), owner(c), flowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	executions, err := h.statistics.ExecutionStatistics(c.Context(), owner(c), flowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"flow_id":    flowID,
		"executions": executions,
		"actions":    actions.ByType,
	})
}

// TestRun queues a synthetic contact event that runs the flow regardless of
// its trigger conditions and enabled flag. Executors see the run as a test.
func (h *APIHandlers) TestRun(c fiber.Ctx) error {
	var req TestRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flows.Get(c.Context(), owner(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	eventType := req.Type
	if eventType == "" {
		eventType = models.ContactEventUpdated
	}

	now := h.clock.Now().UTC()
	event := events.NewContactReceived(models.ContactEvent{
		OwnerID:    flow.OwnerID,
		ContactID:  req.ContactID,
		Type:       eventType,
		Data:       req.Data,
		OccurredAt: now,
		IsTestRun:  true,
		FlowID:     flow.ID,
	}, now)

	if err := h.publisher.Publish(c.Context(), flow.OwnerID+":"+req.ContactID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TestRunResponse{
		EventID:   event.ID,
		FlowID:    flow.ID,
		ContactID: req.ContactID,
	})
}

// IngestContactEvent queues a contact change for flow selection.
func (h *APIHandlers) IngestContactEvent(c fiber.Ctx) error {
	var req ContactEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := h.clock.Now().UTC()

	occurredAt := now
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	event := events.NewContactReceived(models.ContactEvent{
		OwnerID:    owner(c),
		ContactID:  req.ContactID,
		Type:       req.Type,
		Data:       req.Data,
		OccurredAt: occurredAt,
	}, now)

	if err := h.publisher.Publish(c.Context(), owner(c)+":"+req.ContactID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedEventResponse{EventID: event.ID})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	req := services.ListExecutionsRequest{
		OwnerID: owner(c),
		FlowID:  c.Query("flow_id"),
		Status:  models.ExecutionStatus(c.Query("status")),
	}

	if value := c.Query("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.Limit = limit
	}

	if value := c.Query("offset"); value != "" {
		offset, err := strconv.Atoi(value)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.Offset = offset
	}

	if value := c.Query("is_test_run"); value != "" {
		isTestRun, err := strconv.ParseBool(value)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.IsTestRun = &isTestRun
	}

	executions, err := h.executions.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": executions,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executions.Get(c.Context(), owner(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")

	cancelled, err := h.executions.Cancel(c.Context(), owner(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if cancelled != nil {
		return c.JSON(cancelled)
	}

	// Missing, foreign or already finished: there is no running execution to cancel.
	execution, err := h.executions.Get(c.Context(), owner(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return notFound(c, "no running execution "+id+": it is already "+string(execution.Status))
}

func (h *APIHandlers) ExecutionStatistics(c fiber.Ctx) error {
	stats, err := h.statistics.ExecutionStatistics(c.Context(), owner(c), c.Query("flow_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}
