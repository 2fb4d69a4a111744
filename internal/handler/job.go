package handler

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

// JobHandler exposes the splitter job API
type JobHandler struct {
	service *service.SplitService
}

func NewJobHandler(svc *service.SplitService) *JobHandler {
	return &JobHandler{service: svc}
}

// Ping handles GET /ping
func (h *JobHandler) Ping(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "splitter-service",
	})
}

// Submit handles POST /jobs
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SplitRequest
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", fiber.Map{"reason": err.Error()})
	}

	result, err := h.service.Submit(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, model.ErrInvalidRequest) {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /jobs/:jobId/status
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.FromError(c, err)
	}

	return response.OK(c, job)
}
