package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"arena-ladder/services"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{services.ErrLadderDisabled, fiber.StatusServiceUnavailable},
	{services.ErrNoGameAvailable, fiber.StatusServiceUnavailable},
	{services.ErrMatchNotFound, fiber.StatusNotFound},
	{services.ErrCompetitionNotFound, fiber.StatusNotFound},
	{services.ErrBotNotFound, fiber.StatusNotFound},
	{services.ErrMapNotFound, fiber.StatusNotFound},
	{services.ErrBotDataNotAvailable, fiber.StatusNotFound},
	{services.ErrResultAlreadyExists, fiber.StatusConflict},
	{services.ErrRoundAlreadyComplete, fiber.StatusConflict},
	{services.ErrNotAssigned, fiber.StatusForbidden},
	{services.ErrNotPermitted, fiber.StatusForbidden},
	{services.ErrBotNotInMatch, fiber.StatusBadRequest},
	{services.ErrInvalidResult, fiber.StatusBadRequest},
	{services.ErrInvalidRequest, fiber.StatusBadRequest},
	{services.ErrInvalidTransition, fiber.StatusBadRequest},
	{services.ErrNoOpponent, fiber.StatusBadRequest},
	{services.ErrNoMaps, fiber.StatusBadRequest},
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("[API] request failed")
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
