package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"registration-system/models"
)

// SyncAdmin is the operator surface of the sync dispatcher.
type SyncAdmin interface {
	ListFailed(ctx context.Context, limit int) ([]models.RegistrationSync, error)
	Requeue(ctx context.Context, registrationID string) (*models.RegistrationSync, error)
}

const (
	defaultFailedLimit = 50
	maxFailedLimit     = 500
)

func SetupSyncRoutes(admin fiber.Router, syncs SyncAdmin) {
	admin.Get("/syncs/failed", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultFailedLimit)
		if limit <= 0 || limit > maxFailedLimit {
			return writeError(c, fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 500"))
		}
		trackers, err := syncs.ListFailed(c.UserContext(), limit)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"syncs": trackers, "count": len(trackers)})
	})

	admin.Post("/syncs/:registration_id/requeue", func(c *fiber.Ctx) error {
		tracker, err := syncs.Requeue(c.UserContext(), c.Params("registration_id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(tracker)
	})
}
