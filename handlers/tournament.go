package handlers

import (
	"github.com/gofiber/fiber/v2"

	"registration-system/services"
)

type TournamentHandler struct {
	service *services.TournamentService
}

func NewTournamentHandler(service *services.TournamentService) *TournamentHandler {
	return &TournamentHandler{service: service}
}

func SetupTournamentRoutes(secured, admin fiber.Router, h *TournamentHandler) {
	secured.Get("/tournaments/:id", h.Get)

	// 🔒 Admin-only routes
	admin.Post("/tournaments", h.Create)
	admin.Delete("/tournaments/:id", h.Delete)
}

func (h *TournamentHandler) Create(c *fiber.Ctx) error {
	var req createTournamentRequest
	if err := bind(c, &req); err != nil {
		return writeError(c, err)
	}
	t, err := h.service.Create(c.UserContext(), req.input())
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(t)
}

func (h *TournamentHandler) Get(c *fiber.Ctx) error {
	t, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(t)
}

func (h *TournamentHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
