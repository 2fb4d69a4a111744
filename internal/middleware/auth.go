package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/auth"
	"github.com/stemsplit/api/pkg/response"
)

const sessionHashKey = "sessionHash"

// SessionMiddleware rejects requests without a valid license session cookie
type SessionMiddleware struct {
	signer     *auth.SessionSigner
	cookieName string
}

func NewSessionMiddleware(signer *auth.SessionSigner, cookieName string) *SessionMiddleware {
	return &SessionMiddleware{
		signer:     signer,
		cookieName: cookieName,
	}
}

// Authenticate validates the session cookie
func (m *SessionMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(m.cookieName)
		if token == "" {
			return response.Unauthorized(c, "Not authenticated")
		}

		claims, err := m.signer.Verify(token)
		if err != nil {
			return response.Unauthorized(c, "Session expired or invalid")
		}

		c.Locals(sessionHashKey, claims.Hash)
		return c.Next()
	}
}

// GetSessionHash extracts the license hash of the current session
func GetSessionHash(c *fiber.Ctx) string {
	if hash, ok := c.Locals(sessionHashKey).(string); ok {
		return hash
	}
	return ""
}
