package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"arena-ladder/middleware"
	"arena-ladder/services"
)

type MatchRequestHandler struct {
	Requests *services.MatchRequestService
	Results  *services.ResultService
}

func NewMatchRequestHandler(requests *services.MatchRequestService, results *services.ResultService) *MatchRequestHandler {
	return &MatchRequestHandler{Requests: requests, Results: results}
}

func SetupMatchRequestRoutes(app *fiber.App, db *gorm.DB, gatewayToken string, h *MatchRequestHandler) {
	secured := app.Group("/match-requests",
		middleware.GatewayAuthMiddleware(gatewayToken),
		middleware.UserContextMiddleware(db),
	)
	secured.Post("/", h.RequestMatches)
	secured.Post("/:id/cancel", h.CancelMatch)
}

func (h *MatchRequestHandler) RequestMatches(c *fiber.Ctx) error {
	var req services.MatchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.UserID = middleware.UserID(c)

	matches, err := h.Requests.RequestMatches(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"matches": matches})
}

// CancelMatch lets the requesting user cancel a match they asked for.
func (h *MatchRequestHandler) CancelMatch(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	result, err := h.Results.CancelMatch(c.UserContext(), c.Params("id"), &userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
