package handlers

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/services"
)

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Priority int             `json:"priority,omitempty"`
}

// JobHandler handles HTTP requests for job operations
type JobHandler struct {
	service *services.Job
}

// NewJobHandler creates a new job handler instance
func NewJobHandler(s *services.Job) *JobHandler {
	return &JobHandler{service: s}
}

// CreateJob handles the request to enqueue a new job. Unknown job types are
// accepted and stay queued until a handler exists for them.
func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}
	if req.Type == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("job type is required"))
	}

	job, err := h.service.Enqueue(c.Context(), req.Type, req.Data, req.Priority)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.Status(fiber.StatusCreated).JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// GetJob handles the request to fetch a single job
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid job id"))
	}

	job, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).
			JSON(errInvalidInput(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// ListJobs handles the request to list jobs
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	status, err := models.ParseJobStatus(c.Query("status"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid job status"))
	}

	jobs, err := h.service.List(c.Context(), repos.JobFilter{
		Status: status,
		Type:   c.Query("type"),
	}, &models.ListOptions{
		Limit:  c.QueryInt("limit", models.DefaultLimit),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: jobs,
	})
}

// GetJobStats handles the request for per-status job counts
func (h *JobHandler) GetJobStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: stats,
	})
}

// CancelJob handles the request to cancel a pending or active job
func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid job id"))
	}

	if err := h.service.Cancel(c.Context(), id); err != nil {
		if errors.Is(err, repos.ErrInvalidTransition) {
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

func parseJobID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
