package middleware

import (
	"errors"
	"strings"
	"time"

	"agent_server/pkg/apperr"
	"agent_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Locals keys set by JWTAuth.
const (
	LocalSubject = "auth_subject"
	LocalClaims  = "auth_claims"
)

// JWTAuth validates HS256 bearer tokens issued to the messaging webhook.
func JWTAuth(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
	)

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		if secret == "" {
			return apperr.ConfigError("JWT secret not configured")
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil {
			logger.WithError(err).Warn("[JWTAuth] token rejected: %s %s", c.Method(), c.Path())
			if errors.Is(err, jwt.ErrTokenExpired) {
				return apperr.TokenExpired()
			}
			return apperr.InvalidToken("invalid token")
		}

		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			c.Locals(LocalSubject, sub)
		}
		c.Locals(LocalClaims, claims)
		return c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
