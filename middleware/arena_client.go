package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"arena-ladder/models"
)

// ArenaClientAuthMiddleware authenticates match runners by their
// "Authorization: Token <token>" header.
func ArenaClientAuthMiddleware(db *gorm.DB) fiber.Handler {
	logger := log.With().Str("component", "arena_client_auth").Logger()

	return func(c *fiber.Ctx) error {
		token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Token ")
		if !ok || token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "arena client token missing"})
		}

		db := db.WithContext(c.UserContext())
		var client models.ArenaClient
		if err := db.Where("token = ?", token).First(&client).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				logger.Warn().Str("path", c.Path()).Msg("[ARENA_AUTH] unknown token")
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid arena client token"})
			}
			logger.Error().Err(err).Msg("[ARENA_AUTH] client lookup failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
		if !client.Active {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "arena client is inactive"})
		}

		now := time.Now()
		if err := db.Model(&client).UpdateColumn("last_seen", now).Error; err != nil {
			logger.Warn().Err(err).Str("arena_client", client.Name).Msg("[ARENA_AUTH] failed to record last seen")
		}
		client.LastSeen = &now

		c.Locals(ArenaClientKey, &client)
		return c.Next()
	}
}

// ArenaClient returns the client stored by ArenaClientAuthMiddleware.
func ArenaClient(c *fiber.Ctx) *models.ArenaClient {
	client, _ := c.Locals(ArenaClientKey).(*models.ArenaClient)
	return client
}
