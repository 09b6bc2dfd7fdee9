package web

import "github.com/gofiber/fiber/v3"

// Routes mounts the flow and execution endpoints on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	f := router.Group("/flows", RequireOwner)
	f.Get("/", h.ListFlows)
	f.Post("/", h.CreateFlow)
	f.Get("/priorities/next", h.NextPriority)
	f.Get("/priorities/available", h.PriorityAvailable)
	f.Put("/priorities", h.ReassignPriorities)
	f.Get("/:id", h.GetFlow)
	f.Patch("/:id", h.UpdateFlow)
	f.Delete("/:id", h.DeleteFlow)
	f.Put("/:id/enabled", h.SetFlowEnabled)
	f.Put("/:id/conditions", h.ReplaceConditions)
	f.Put("/:id/actions", h.ReplaceActions)
	f.Get("/:id/statistics", h.FlowStatistics)
	f.Post("/:id/test-run", h.TestRun)

	router.Group("/contact-events", RequireOwner).Post("/", h.IngestContactEvent)

	e := router.Group("/executions", RequireOwner)
	e.Get("/", h.ListExecutions)
	e.Get("/statistics", h.ExecutionStatistics)
	e.Get("/:id", h.GetExecution)
	e.Post("/:id/cancel", h.CancelExecution)
}
