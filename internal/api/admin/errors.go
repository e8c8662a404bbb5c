// errors.go maps lifecycle errors to HTTP responses. It is the only place in the
// service that knows about status codes for domain errors.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tenant-service/tenant-service/internal/auth"
	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/db/repositories"
	"github.com/tenant-service/tenant-service/internal/middleware"
	"github.com/tenant-service/tenant-service/internal/services"
	"github.com/tenant-service/tenant-service/internal/slug"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	// Retryable is set when repeating the same request completes it
	Retryable bool `json:"retryable,omitempty"`
	// OperatorActionRequired is set when the stores disagree and retries will not help
	OperatorActionRequired bool `json:"operator_action_required,omitempty"`
}

// statusFor classifies err. The message is safe to show to clients.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInconsistentState):
		return http.StatusInternalServerError, "Tenant state is inconsistent; an operator has been alerted"
	case errors.Is(err, services.ErrPartialDelete):
		return http.StatusInternalServerError, "Organization data was deleted but its record remains; retry the request"
	case errors.Is(err, services.ErrArchiveFailed):
		return http.StatusInternalServerError, "Failed to archive organization data; nothing was deleted"
	case errors.Is(err, services.ErrDropFailed):
		return http.StatusInternalServerError, "Failed to delete organization data; nothing was deleted"
	case errors.Is(err, services.ErrTenantProvisioning):
		return http.StatusInternalServerError, "Failed to provision organization storage"

	case errors.Is(err, slug.ErrInvalidName):
		return http.StatusBadRequest, "Organization name is not usable"
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, collections.ErrInvalidIdentifier):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, repositories.ErrDuplicateName):
		return http.StatusConflict, "Organization name already exists"
	case errors.Is(err, repositories.ErrDuplicateEmail):
		return http.StatusConflict, "Email is already in use"
	case errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound, "Organization not found"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrMalformedToken):
		return http.StatusUnauthorized, "Invalid token"
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "You don't have permission to access this organization"
	// after the 4xx cases: a migration refused because the target exists is a conflict
	case errors.Is(err, collections.ErrMigrationFailed):
		return http.StatusInternalServerError, "Failed to migrate organization data; nothing was changed"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// respondError writes the response for err. Server-side failures are logged
// with the request id; their causes never reach the client.
func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	resp := ErrorResponse{
		Error:                  msg,
		RequestID:              middleware.GetRequestID(c),
		Retryable:              errors.Is(err, services.ErrPartialDelete),
		OperatorActionRequired: errors.Is(err, services.ErrInconsistentState),
	}

	if status >= http.StatusInternalServerError {
		middleware.RequestLogger(c).Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	} else {
		middleware.RequestLogger(c).Debug("request rejected", "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// respondBindError reports a request body that failed validation
func respondBindError(c *gin.Context, err error) {
	slog.Debug("invalid request body", "path", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:     "Invalid request: " + err.Error(),
		RequestID: middleware.GetRequestID(c),
	})
}
