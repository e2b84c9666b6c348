package handlers

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// DirectoryCache is the cached family directory; operators flush it after a
// holder or membership change on the family side.
type DirectoryCache interface {
	Invalidate(ctx context.Context, familyID string, dependantIDs ...string) error
}

type invalidateFamilyRequest struct {
	DependantIDs []string `json:"dependant_ids"`
}

func (r *invalidateFamilyRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.DependantIDs, validation.Length(0, 100)),
	)
}

func SetupDirectoryRoutes(admin fiber.Router, cache DirectoryCache) {
	admin.Post("/directory/families/:id/invalidate", func(c *fiber.Ctx) error {
		var req invalidateFamilyRequest
		if err := bind(c, &req); err != nil {
			return writeError(c, err)
		}
		familyID := c.Params("id")
		if err := cache.Invalidate(c.UserContext(), familyID, req.DependantIDs...); err != nil {
			return writeError(c, err)
		}
		zap.L().Info("🧹 [DIRECTORY] cache invalidated",
			zap.String("family_id", familyID),
			zap.Int("dependants", len(req.DependantIDs)))
		return c.SendStatus(fiber.StatusNoContent)
	})
}
