package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const CallerIDKey contextKey = "caller_id"

// Middleware returns an echo middleware validating HMAC-signed bearer
// tokens against secret. The token subject must be a UUID identifying
// the calling operator; it is stored on the request context.
func Middleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
			}

			if len(secret) == 0 {
				return echo.NewHTTPError(http.StatusInternalServerError, "Server auth configuration error")
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
			}
			sub, err := claims.GetSubject()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token subject")
			}
			callerID, err := uuid.Parse(sub)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid caller ID in token")
			}

			c.Set(string(CallerIDKey), callerID)
			return next(c)
		}
	}
}

// CallerIDFromContext retrieves the authenticated caller's ID.
func CallerIDFromContext(c echo.Context) (uuid.UUID, error) {
	val := c.Get(string(CallerIDKey))
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("caller ID not found in context")
	}
	return id, nil
}
