// Package middleware provides Gin HTTP middleware for authentication, rate limiting,
// security headers, request ids and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → RateLimit → Auth → Handler
//
// Security headers run early so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attempts before any token work.
// Auth only places the verified principal in the context; whether that principal
// may touch a given organization is decided by the lifecycle workflows.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tenant-service/tenant-service/internal/auth"
	"github.com/tenant-service/tenant-service/internal/services"
)

// Context keys set by AuthMiddleware
const (
	ContextKeyAdminID        = "admin_id"
	ContextKeyOrganizationID = "organization_id"
	ContextKeyPrincipal      = "principal"
)

// Authenticator verifies a bearer token. *services.TenantManager implements it.
type Authenticator interface {
	Authenticate(token string) (*services.Principal, error)
}

// AuthMiddleware requires a valid bearer token and stores the principal it names.
// Identity is never taken from the request body or query.
func AuthMiddleware(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="tenant-service"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		principal, err := authenticator.Authenticate(token)
		if err != nil {
			slog.Debug("token rejected", "error", err, "path", c.FullPath())
			c.Header("WWW-Authenticate", `Bearer realm="tenant-service", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": tokenErrorMessage(err),
			})
			return
		}

		c.Set(ContextKeyPrincipal, *principal)
		c.Set(ContextKeyAdminID, principal.AdminID)
		c.Set(ContextKeyOrganizationID, principal.OrganizationID)
		c.Next()
	}
}

// GetPrincipal returns the principal stored by AuthMiddleware
func GetPrincipal(c *gin.Context) (services.Principal, bool) {
	v, ok := c.Get(ContextKeyPrincipal)
	if !ok {
		return services.Principal{}, false
	}
	p, ok := v.(services.Principal)
	return p, ok
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token has expired"
	case errors.Is(err, auth.ErrInvalidSignature):
		return "Token signature is invalid"
	default:
		return "Token is malformed"
	}
}
