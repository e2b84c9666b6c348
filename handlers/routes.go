package handlers

import (
	"github.com/gofiber/fiber/v2"

	"registration-system/middleware"
	"registration-system/services"
)

type Services struct {
	Registrations *services.RegistrationService
	Tournaments   *services.TournamentService
	Syncs         SyncAdmin
	// Directory is set only when the family directory is cached.
	Directory DirectoryCache
}

// SetupRoutes mounts every user-facing and admin route. Gateway auth is
// expected to be installed on app already.
func SetupRoutes(app *fiber.App, svc Services) {
	secured := app.Group("/", middleware.UserContextMiddleware())
	admin := secured.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))

	SetupRegistrationRoutes(secured, NewRegistrationHandler(svc.Registrations))
	SetupTournamentRoutes(secured, admin, NewTournamentHandler(svc.Tournaments))
	SetupSyncRoutes(admin, svc.Syncs)
	if svc.Directory != nil {
		SetupDirectoryRoutes(admin, svc.Directory)
	}
}
