package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"registration-system/middleware"
	"registration-system/services"
)

type RegistrationHandler struct {
	service *services.RegistrationService
}

func NewRegistrationHandler(service *services.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

// SetupRegistrationRoutes mounts the registration endpoints on a router that
// already carries the user context.
func SetupRegistrationRoutes(secured fiber.Router, h *RegistrationHandler) {
	secured.Post("/tournaments/:id/registrations/individual", h.RequestIndividual)
	secured.Post("/tournaments/:id/registrations/duo", h.RequestDuo)
	secured.Get("/tournaments/:id/registrations", h.ListForTournament)

	secured.Get("/registrations/:id", h.Get)
	secured.Post("/registrations/:id/accept", h.Accept)
	secured.Post("/registrations/:id/reject", h.Reject)
	secured.Post("/registrations/:id/cancel", h.Cancel)
}

func (h *RegistrationHandler) RequestIndividual(c *fiber.Ctx) error {
	var req individualRegistrationRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	reg, err := h.service.RequestIndividual(c.UserContext(), middleware.UserID(c), c.Params("id"), req.CompetitorID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(reg)
}

func (h *RegistrationHandler) RequestDuo(c *fiber.Ctx) error {
	var req duoRegistrationRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	reg, err := h.service.RequestDuo(c.UserContext(), middleware.UserID(c), c.Params("id"), req.CompetitorID, req.PartnerID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(reg)
}

func (h *RegistrationHandler) ListForTournament(c *fiber.Ctx) error {
	regs, err := h.service.ListVisible(c.UserContext(), viewer(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"registrations": regs, "count": len(regs)})
}

func (h *RegistrationHandler) Get(c *fiber.Ctx) error {
	reg, err := h.service.View(c.UserContext(), viewer(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(reg)
}

func (h *RegistrationHandler) Accept(c *fiber.Ctx) error {
	return h.transition(c, h.service.AcceptDuo)
}

func (h *RegistrationHandler) Reject(c *fiber.Ctx) error {
	return h.transition(c, h.service.RejectDuo)
}

func (h *RegistrationHandler) Cancel(c *fiber.Ctx) error {
	var req cancelRegistrationRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	if err := h.service.Cancel(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Reason); err != nil {
		return writeError(c, err)
	}
	return h.Get(c)
}

// transition runs a decision and answers with the updated registration.
func (h *RegistrationHandler) transition(c *fiber.Ctx, decide func(ctx context.Context, registrationID, actingUserID string) error) error {
	if err := decide(c.UserContext(), c.Params("id"), middleware.UserID(c)); err != nil {
		return writeError(c, err)
	}
	return h.Get(c)
}

func viewer(c *fiber.Ctx) services.Viewer {
	return services.Viewer{UserID: middleware.UserID(c), Admin: middleware.IsAdmin(c)}
}
