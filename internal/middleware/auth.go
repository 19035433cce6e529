package middleware

import (
	"discourse/internal/models"
	"discourse/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// AuthRequired verifies the JWT and populates the request locals. The
// auth cookie is checked first; the Authorization header stays as a
// fallback for API clients.
func AuthRequired(jwtAuth *auth.LocalJWTAuth, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(cookieName)
		if token == "" {
			extracted, err := auth.ExtractToken(c.Get("Authorization"))
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authentication required",
				})
			}
			token = extracted
		}

		user, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user_id", user.ID)
		c.Locals("user_email", user.Email)
		c.Locals("user_role", user.Role)

		return c.Next()
	}
}

// RequireTeacher gates host-only and owner-only routes.
func RequireTeacher() fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("user_role").(string)
		if role != models.RoleTeacher {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Teacher role required",
			})
		}
		return c.Next()
	}
}
