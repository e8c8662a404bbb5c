// auth.go implements the admin login endpoint.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LoginRequest is the body of POST /admin/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthHandlers serves the /admin endpoints
type AuthHandlers struct {
	tenants TenantService
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(tenants TenantService) *AuthHandlers {
	return &AuthHandlers{tenants: tenants}
}

// @Summary      Admin login
// @Description  Exchanges admin credentials for a bearer token scoped to the admin's organization.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Admin credentials"
// @Success      200  {object}  services.LoginResult
// @Failure      400  {object}  ErrorResponse  "Invalid request"
// @Failure      401  {object}  ErrorResponse  "Invalid email or password"
// @Router       /admin/login [post]
// LoginHandler authenticates an admin
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		result, err := h.tenants.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
