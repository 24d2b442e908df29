package security

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards the ops endpoints with a shared admin key, checked
// against a bcrypt hash so the plaintext never sits in config. An
// empty hash disables the endpoints entirely rather than leaving them
// open.
func AdminAuth(keyHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if keyHash == "" {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "admin access is not configured",
				})
			}

			key := c.Request().Header.Get("X-Admin-Key")
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing admin key",
				})
			}

			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "invalid admin key",
				})
			}

			return next(c)
		}
	}
}
