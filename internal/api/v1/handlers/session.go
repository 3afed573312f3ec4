package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/services"
)

// SessionStatusData is the payload of GET /sessions/:id/status.
type SessionStatusData struct {
	SessionID          string `json:"session_id"`
	ClaudeStatus       string `json:"claude_status"`
	PendingPermissions int64  `json:"pending_permissions"`
	DisplayStatus      string `json:"display_status"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Title       string `json:"title,omitempty"`
	ProjectPath string `json:"project_path"`
}

// SessionHandler handles HTTP requests for session operations
type SessionHandler struct {
	sessions    *repos.SessionRepository
	permissions *services.Permission
}

// NewSessionHandler creates a new session handler instance
func NewSessionHandler(sessions *repos.SessionRepository, permissions *services.Permission) *SessionHandler {
	return &SessionHandler{sessions: sessions, permissions: permissions}
}

// CreateSession handles the request to create a new session
func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}

	session := &models.Session{
		Title:       req.Title,
		ProjectPath: req.ProjectPath,
	}
	if err := h.sessions.Create(c.Context(), session); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}

	return c.Status(fiber.StatusCreated).JSON(Response{
		Slug: SuccessSlug,
		Data: session,
	})
}

// ListSessions handles the request to list sessions
func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.sessions.List(c.Context(), &models.ListOptions{
		Limit:  c.QueryInt("limit", models.DefaultLimit),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: sessions,
	})
}

// GetSessionStatus handles the request for a session's display status. The
// status is projected at read time from the persisted agent status and the
// pending permission count; nothing is mutated.
func (h *SessionHandler) GetSessionStatus(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	session, err := h.sessions.GetByID(c.Context(), sessionID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).
			JSON(errInvalidInput(err.Error()))
	}

	pending, err := h.permissions.CountPending(c.Context(), sessionID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: SessionStatusData{
			SessionID:          session.ID,
			ClaudeStatus:       session.ClaudeStatus.String(),
			PendingPermissions: pending,
			DisplayStatus:      services.ProjectStatus(session.ClaudeStatus, pending),
		},
	})
}

// CancelSession handles the request to cancel a session's pending
// permission requests so any blocked approval call returns a deny promptly.
func (h *SessionHandler) CancelSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if _, err := h.sessions.GetByID(c.Context(), sessionID); err != nil {
		return c.Status(fiber.StatusNotFound).
			JSON(errInvalidInput(err.Error()))
	}

	cancelled, err := h.permissions.CancelForSession(c.Context(), sessionID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: fiber.Map{"cancelled_permissions": cancelled},
	})
}
