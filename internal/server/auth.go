package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"genrouter/internal/core"
)

// AuthMiddleware requires "Authorization: Bearer <masterKey>" on every path
// except publicPaths. An empty masterKey disables the check.
func AuthMiddleware(masterKey string, publicPaths []string) echo.MiddlewareFunc {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}
	want := []byte(masterKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(want) == 0 {
				return next(c)
			}
			if _, ok := public[c.Request().URL.Path]; ok {
				return next(c)
			}
			if reason := checkBearer(c.Request().Header.Get(echo.HeaderAuthorization), want); reason != "" {
				return c.JSON(http.StatusUnauthorized, core.NewAuthenticationError("", reason).ToJSON())
			}
			return next(c)
		}
	}
}

// checkBearer returns why header does not carry want, or "" when it does.
// The scheme is matched case-insensitively.
func checkBearer(header string, want []byte) string {
	if header == "" {
		return "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "invalid authorization header format, expected 'Bearer <token>'"
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), want) != 1 {
		return "invalid master key"
	}
	return ""
}
