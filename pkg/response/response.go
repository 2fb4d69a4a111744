package response

import (
	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/model"
)

// Error codes
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeRateLimited       = "RATE_LIMITED"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeServiceError      = "SERVICE_ERROR"
	CodeUpstreamError     = "UPSTREAM_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func PayloadTooLarge(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusRequestEntityTooLarge, CodePayloadTooLarge, message, nil)
}

func ResourceExhausted(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusServiceUnavailable, CodeResourceExhausted, message, nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func UpstreamError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadGateway, CodeUpstreamError, message, nil)
}

// FromError writes the response matching the kind err was marked with
func FromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return ValidationError(c, err.Error(), nil)
	case errors.Is(err, model.ErrNotFound):
		return NotFound(c, err.Error())
	case errors.Is(err, model.ErrResourceExhausted):
		return ResourceExhausted(c, err.Error())
	default:
		return ServiceError(c, err.Error())
	}
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

// ErrorHandler renders errors that escaped the handlers, including Fiber's
// own (unknown route, body limit), in the standard envelope
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	switch code {
	case fiber.StatusNotFound:
		return NotFound(c, message)
	case fiber.StatusRequestEntityTooLarge:
		return PayloadTooLarge(c, message)
	case fiber.StatusTooManyRequests:
		return RateLimited(c)
	}

	if code >= 400 && code < 500 {
		return Error(c, code, CodeValidationError, message, nil)
	}
	return Error(c, code, CodeServiceError, message, nil)
}
