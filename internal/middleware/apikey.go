package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

// APIKey guards partner endpoints with a shared key whose bcrypt hash is configured. An empty
// hash disables the check.
func APIKey(hash string) fiber.Handler {
	hash = strings.TrimSpace(hash)
	return func(c *fiber.Ctx) error {
		if hash == "" {
			return c.Next()
		}
		key := strings.TrimSpace(c.Get(apiKeyHeader))
		if key == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "missing " + apiKeyHeader + " header",
			})
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "invalid api key",
			})
		}
		return c.Next()
	}
}
