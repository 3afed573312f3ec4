package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/services"
)

// DecisionRequest is the body of POST /permissions/:id/decision.
type DecisionRequest struct {
	Decision string `json:"decision"`
}

// PermissionHandler handles HTTP requests for permission operations
type PermissionHandler struct {
	service *services.Permission
}

// NewPermissionHandler creates a new permission handler instance
func NewPermissionHandler(s *services.Permission) *PermissionHandler {
	return &PermissionHandler{service: s}
}

// RecordDecision handles the request to approve or deny a pending
// permission request. Only the first decision on a request is accepted.
func (h *PermissionHandler) RecordDecision(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid permission request id"))
	}

	var req DecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}
	if req.Decision != models.DecisionAllow && req.Decision != models.DecisionDeny {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("decision must be allow or deny"))
	}

	if err := h.service.RecordDecision(c.Context(), id, req.Decision); err != nil {
		if errors.Is(err, repos.ErrAlreadyResolved) {
			return c.Status(fiber.StatusConflict).
				JSON(errInvalidInput(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
	})
}

// ListSessionPermissions handles the request to list a session's permission
// requests, optionally filtered by status.
func (h *PermissionHandler) ListSessionPermissions(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid session id"))
	}

	var status models.PermissionStatus
	if str := c.Query("status"); str != "" {
		parsed, err := models.ParsePermissionStatus(str)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput("invalid permission status"))
		}
		status = parsed
	}

	reqs, err := h.service.ListBySession(c.Context(), sessionID, status, &models.ListOptions{
		Limit:  c.QueryInt("limit", models.DefaultLimit),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: reqs,
	})
}
