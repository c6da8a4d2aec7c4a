package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"arena-ladder/middleware"
	"arena-ladder/models"
	"arena-ladder/services"
)

type AdminHandler struct {
	Competitions *services.CompetitionService
	Results      *services.ResultService
}

func NewAdminHandler(competitions *services.CompetitionService, results *services.ResultService) *AdminHandler {
	return &AdminHandler{Competitions: competitions, Results: results}
}

func SetupAdminRoutes(app *fiber.App, db *gorm.DB, gatewayToken string, h *AdminHandler) {
	admin := app.Group("/admin",
		middleware.GatewayAuthMiddleware(gatewayToken),
		middleware.UserContextMiddleware(db),
		middleware.RequireRole(middleware.AdminRole),
	)
	admin.Patch("/competitions/:id/status", h.UpdateCompetitionStatus)
	admin.Post("/matches/:id/cancel", h.CancelMatch)
}

type statusUpdate struct {
	Status models.CompetitionStatus `json:"status"`
}

func (h *AdminHandler) UpdateCompetitionStatus(c *fiber.Ctx) error {
	var body statusUpdate
	if err := c.BodyParser(&body); err != nil || body.Status == "" {
		return badRequest(c, "status is required")
	}

	comp, err := h.Competitions.UpdateStatus(c.UserContext(), c.Params("id"), body.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comp)
}

// CancelMatch cancels any match regardless of who requested it.
func (h *AdminHandler) CancelMatch(c *fiber.Ctx) error {
	result, err := h.Results.CancelMatch(c.UserContext(), c.Params("id"), nil)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
