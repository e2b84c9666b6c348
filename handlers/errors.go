package handlers

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"registration-system/models"
)

// writeError maps domain errors onto HTTP statuses with a stable code.
func writeError(c *fiber.Ctx, err error) error {
	status, code := classify(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		zap.L().Error("❌ [HTTP] request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		msg = "internal server error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg, "code": code})
}

func classify(err error) (int, string) {
	var verrs validation.Errors
	var ferr *fiber.Error
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrRegistrationWindowClosed):
		return fiber.StatusUnprocessableEntity, "registration_window_closed"
	case errors.Is(err, models.ErrDuplicateRegistration):
		return fiber.StatusConflict, "duplicate_registration"
	case errors.Is(err, models.ErrConflict):
		return fiber.StatusConflict, "conflict"
	case errors.Is(err, models.ErrInvalidState):
		return fiber.StatusConflict, "invalid_state"
	case errors.Is(err, models.ErrForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrInvalidInput), errors.As(err, &verrs):
		return fiber.StatusBadRequest, "invalid_input"
	case errors.As(err, &ferr) && ferr.Code < fiber.StatusInternalServerError:
		return ferr.Code, "invalid_input"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}
