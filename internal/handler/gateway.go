package handler

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/client"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

// SessionCookie describes how the session cookie is written
type SessionCookie struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

// GatewayHandler serves the caller-facing license and split endpoints
type GatewayHandler struct {
	license   *service.LicenseService
	gateway   *service.GatewayService
	validator *validator.Validate
	cookie    SessionCookie
}

func NewGatewayHandler(license *service.LicenseService, gateway *service.GatewayService, v *validator.Validate, cookie SessionCookie) *GatewayHandler {
	return &GatewayHandler{
		license:   license,
		gateway:   gateway,
		validator: v,
		cookie:    cookie,
	}
}

// Ping handles GET /ping
func (h *GatewayHandler) Ping(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "splitter-backend",
	})
}

// ValidateLicense handles POST /api/validate-license
func (h *GatewayHandler) ValidateLicense(c *fiber.Ctx) error {
	var req model.ValidateLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	token, err := h.license.Login(c.UserContext(), req.LicenseKey)
	if err != nil {
		return response.ServiceError(c, "Failed to create session")
	}
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(model.LicenseResponse{
			Success: false,
			Message: "Invalid license key",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return response.OK(c, model.LicenseResponse{
		Success: true,
		Message: "License validated successfully",
	})
}

// Logout handles POST /api/logout
func (h *GatewayHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return response.OK(c, model.LicenseResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

// Split handles POST /api/split
func (h *GatewayHandler) Split(c *fiber.Ctx) error {
	var req model.GatewaySplitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if req.ObjectName == "" {
		return response.ValidationError(c, "No file specified for splitting", nil)
	}

	result, err := h.gateway.Split(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, model.ErrInvalidRequest) {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
		return upstreamError(c, err, "Failed to start splitting")
	}

	return response.OK(c, result)
}

// SplitStatus handles GET /api/split/:jobId/status
func (h *GatewayHandler) SplitStatus(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.gateway.Status(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return upstreamError(c, err, "Failed to get job status")
	}

	return response.OK(c, job)
}

// upstreamError keeps the splitter's status code for client errors it
// reported and answers 502 for everything else.
func upstreamError(c *fiber.Ctx, err error, message string) error {
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
		return response.Error(c, statusErr.Code, response.CodeUpstreamError, message, nil)
	}
	if errors.As(err, &statusErr) && statusErr.Code == fiber.StatusServiceUnavailable {
		return response.ResourceExhausted(c, message)
	}
	return response.UpstreamError(c, message)
}
