package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"arena-ladder/models"
)

const (
	UserIDKey      = "user_id"
	UserRolesKey   = "user_roles"
	ArenaClientKey = "arena_client"

	AdminRole = "admin"
)

// UserContextMiddleware resolves the X-User-ID set by the Gateway to a
// local user and stores its id and roles in Locals.
func UserContextMiddleware(db *gorm.DB) fiber.Handler {
	logger := log.With().Str("component", "user_ctx").Logger()

	return func(c *fiber.Ctx) error {
		externalID := c.Get("X-User-ID")
		if externalID == "" {
			logger.Warn().Str("path", c.Path()).Msg("[USER_CTX] X-User-ID required but missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		var user models.User
		if err := db.WithContext(c.UserContext()).Where("external_user_id = ?", externalID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unknown user"})
			}
			logger.Error().Err(err).Msg("[USER_CTX] user lookup failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
		if user.IsBanned {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "user is banned"})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(UserIDKey, user.ID)
		c.Locals(UserRolesKey, roles)
		return c.Next()
	}
}

// RequireRole rejects requests whose Gateway roles do not include role.
// It must run after UserContextMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals(UserRolesKey).([]string)
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient role"})
	}
}

// UserID returns the local user id stored by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserIDKey).(string)
	return id
}
