package plugins

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/linht/pir-manager/pyd1598"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Class   string      `json:"class,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *fiber.Ctx, data interface{}, message string) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendError sends an error response
func SendError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// SendErrorMessage sends an error response with a custom message
func SendErrorMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// SendDriverError sends a sensor driver error with the status of its class
func SendDriverError(c *fiber.Ctx, err error) error {
	return c.Status(DriverStatus(err)).JSON(APIResponse{
		Success: false,
		Error:   err.Error(),
		Class:   ErrorClass(err),
	})
}

// DriverStatus maps a driver error class to an HTTP status code
func DriverStatus(err error) int {
	switch {
	case errors.Is(err, pyd1598.ErrInvalidArgument):
		return fiber.StatusBadRequest
	case errors.Is(err, pyd1598.ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, pyd1598.ErrIO), errors.Is(err, pyd1598.ErrDevice):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorClass names the driver error class of err, used in responses and
// metric labels
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pyd1598.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, pyd1598.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, pyd1598.ErrIO):
		return "io"
	case errors.Is(err, pyd1598.ErrDevice):
		return "device"
	default:
		return "internal"
	}
}
