// organizations.go implements the organization create, get, update and delete endpoints.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/db/models"
	"github.com/tenant-service/tenant-service/internal/middleware"
	"github.com/tenant-service/tenant-service/internal/services"
)

// TenantService is the slice of services.TenantManager the handlers use
type TenantService interface {
	Create(ctx context.Context, req services.CreateRequest) (*models.Tenant, error)
	Describe(ctx context.Context, name string) (*models.Tenant, error)
	Update(ctx context.Context, p services.Principal, req services.UpdateRequest) (*models.Tenant, error)
	Delete(ctx context.Context, p services.Principal, name string) error
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	AppendRecord(ctx context.Context, p services.Principal, data map[string]any) (*collections.Record, error)
	ListRecords(ctx context.Context, p services.Principal, limit, offset int) ([]collections.Record, error)
}

// CreateOrganizationRequest is the body of POST /org/create
type CreateOrganizationRequest struct {
	OrganizationName string `json:"organization_name" binding:"required,min=3,max=100"`
	Email            string `json:"email" binding:"required,email"`
	Password         string `json:"password" binding:"required,min=6"`
}

// GetOrganizationRequest is the body of POST /org/get
type GetOrganizationRequest struct {
	OrganizationName string `json:"organization_name" form:"organization_name" binding:"required"`
}

// UpdateOrganizationRequest is the body of PUT /org/update.
// Email and Password are only changed when present.
type UpdateOrganizationRequest struct {
	OldOrganizationName string  `json:"old_organization_name" binding:"required"`
	NewOrganizationName string  `json:"new_organization_name" binding:"required,min=3,max=100"`
	Email               *string `json:"email" binding:"omitempty,email"`
	Password            *string `json:"password" binding:"omitempty,min=6"`
}

// DeleteOrganizationRequest is the body of DELETE /org/delete
type DeleteOrganizationRequest struct {
	OrganizationName string `json:"organization_name" binding:"required"`
}

// OrganizationResponse describes one organization
type OrganizationResponse struct {
	ID               string `json:"id"`
	OrganizationName string `json:"organization_name"`
	CollectionName   string `json:"collection_name"`
	AdminEmail       string `json:"admin_email"`
	CreatedAt        string `json:"created_at"`
}

// MessageResponse acknowledges an update or delete
type MessageResponse struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func newOrganizationResponse(t *models.Tenant) OrganizationResponse {
	email := t.Admin.Email
	if email == "" {
		email = "N/A"
	}
	return OrganizationResponse{
		ID:               t.Organization.ID,
		OrganizationName: t.Organization.Name,
		CollectionName:   t.Organization.CollectionID,
		AdminEmail:       email,
		CreatedAt:        t.Organization.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// OrganizationHandlers serves the /org endpoints
type OrganizationHandlers struct {
	tenants TenantService
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(tenants TenantService) *OrganizationHandlers {
	return &OrganizationHandlers{tenants: tenants}
}

// @Summary      Create organization
// @Description  Creates an organization, its admin and its dedicated collection.
// @Tags         Organizations
// @Accept       json
// @Produce      json
// @Param        body  body  CreateOrganizationRequest  true  "Organization and admin credentials"
// @Success      201  {object}  OrganizationResponse
// @Failure      400  {object}  ErrorResponse  "Invalid request"
// @Failure      409  {object}  ErrorResponse  "Name or email already in use"
// @Failure      500  {object}  ErrorResponse  "Provisioning failed"
// @Router       /org/create [post]
// CreateOrganizationHandler provisions a tenant
func (h *OrganizationHandlers) CreateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		tenant, err := h.tenants.Create(c.Request.Context(), services.CreateRequest{
			Name:     req.OrganizationName,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, newOrganizationResponse(tenant))
	}
}

// @Summary      Get organization
// @Description  Looks an organization up by name. Accepts a JSON body on POST or a query parameter on GET.
// @Tags         Organizations
// @Produce      json
// @Param        organization_name  query  string  false  "Organization name (GET)"
// @Success      200  {object}  OrganizationResponse
// @Failure      400  {object}  ErrorResponse  "Invalid request"
// @Failure      404  {object}  ErrorResponse  "Organization not found"
// @Router       /org/get [post]
// GetOrganizationHandler looks an organization up by name
func (h *OrganizationHandlers) GetOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GetOrganizationRequest
		var err error
		if c.Request.Method == http.MethodGet {
			err = c.ShouldBindQuery(&req)
		} else {
			err = c.ShouldBindJSON(&req)
		}
		if err != nil {
			respondBindError(c, err)
			return
		}

		tenant, err := h.tenants.Describe(c.Request.Context(), req.OrganizationName)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, newOrganizationResponse(tenant))
	}
}

// @Summary      Update organization
// @Description  Renames the caller's organization, migrating its collection, and optionally replaces the admin email and password.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  UpdateOrganizationRequest  true  "Rename and credential changes"
// @Success      200  {object}  MessageResponse
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      403  {object}  ErrorResponse  "Not the caller's organization"
// @Failure      409  {object}  ErrorResponse  "Name or email already in use"
// @Failure      500  {object}  ErrorResponse  "Migration failed or state inconsistent"
// @Router       /org/update [put]
// UpdateOrganizationHandler renames the caller's organization
func (h *OrganizationHandlers) UpdateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			respondError(c, services.ErrForbidden)
			return
		}

		var req UpdateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		tenant, err := h.tenants.Update(c.Request.Context(), principal, services.UpdateRequest{
			OldName:     req.OldOrganizationName,
			NewName:     req.NewOrganizationName,
			NewEmail:    req.Email,
			NewPassword: req.Password,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, MessageResponse{
			Message: "Organization updated successfully",
			Details: map[string]any{
				"organization_name": tenant.Organization.Name,
				"collection_name":   tenant.Organization.CollectionID,
				"email_updated":     req.Email != nil,
				"password_updated":  req.Password != nil,
			},
		})
	}
}

// @Summary      Delete organization
// @Description  Drops the caller's organization collection, then its registry records.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  DeleteOrganizationRequest  true  "Organization to delete"
// @Success      200  {object}  MessageResponse
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      403  {object}  ErrorResponse  "Not the caller's organization"
// @Failure      500  {object}  ErrorResponse  "Partial delete (retryable) or drop failure"
// @Router       /org/delete [delete]
// DeleteOrganizationHandler removes the caller's organization
func (h *OrganizationHandlers) DeleteOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			respondError(c, services.ErrForbidden)
			return
		}

		var req DeleteOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		if err := h.tenants.Delete(c.Request.Context(), principal, req.OrganizationName); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, MessageResponse{
			Message: "Organization deleted successfully",
			Details: map[string]any{
				"organization_name": req.OrganizationName,
			},
		})
	}
}
