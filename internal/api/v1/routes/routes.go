// Package routes wires the v1 API routes to their handlers.
package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mzxrai/memva-sub002/internal/api/v1/handlers"
)

// Handlers bundles the handler instances the v1 routes need.
type Handlers struct {
	Job        *handlers.JobHandler
	Permission *handlers.PermissionHandler
	Session    *handlers.SessionHandler
}

// SetupRoutes configures all the v1 routes
func SetupRoutes(router fiber.Router, h Handlers) {
	// Job routes
	jobs := router.Group("/jobs")
	jobs.Post("/", h.Job.CreateJob)
	jobs.Get("/", h.Job.ListJobs)
	jobs.Get("/stats", h.Job.GetJobStats)
	jobs.Get("/:id", h.Job.GetJob)
	jobs.Post("/:id/cancel", h.Job.CancelJob)

	// Session routes
	sessions := router.Group("/sessions")
	sessions.Post("/", h.Session.CreateSession)
	sessions.Get("/", h.Session.ListSessions)
	sessions.Get("/:id/status", h.Session.GetSessionStatus)
	sessions.Get("/:id/permissions", h.Permission.ListSessionPermissions)
	sessions.Post("/:id/cancel", h.Session.CancelSession)

	// Permission routes
	permissions := router.Group("/permissions")
	permissions.Post("/:id/decision", h.Permission.RecordDecision)
}

// Register registers the v1 routes
func Register(app *fiber.App, h Handlers) {
	v1Group := app.Group("/api/v1")
	SetupRoutes(v1Group, h)
}
