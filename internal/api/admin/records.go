// records.go implements the tenant data endpoints. Records always go to the
// collection of the organization named by the caller's token.
package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/middleware"
	"github.com/tenant-service/tenant-service/internal/services"
)

// RecordHandlers serves /org/records
type RecordHandlers struct {
	tenants TenantService
}

// NewRecordHandlers creates a new RecordHandlers instance
func NewRecordHandlers(tenants TenantService) *RecordHandlers {
	return &RecordHandlers{tenants: tenants}
}

// AppendRecordHandler stores the JSON object in the request body
// POST /org/records
func (h *RecordHandlers) AppendRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			respondError(c, services.ErrForbidden)
			return
		}

		var data map[string]any
		if err := c.ShouldBindJSON(&data); err != nil {
			respondBindError(c, err)
			return
		}

		record, err := h.tenants.AppendRecord(c.Request.Context(), principal, data)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, record)
	}
}

// ListRecordsHandler pages through the caller's records, oldest first
// GET /org/records?limit=100&offset=0
func (h *RecordHandlers) ListRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.GetPrincipal(c)
		if !ok {
			respondError(c, services.ErrForbidden)
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit < 1 || limit > services.MaxRecordPage {
			limit = 100
		}
		if offset < 0 {
			offset = 0
		}

		records, err := h.tenants.ListRecords(c.Request.Context(), principal, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		if records == nil {
			records = []collections.Record{}
		}

		c.JSON(http.StatusOK, gin.H{
			"records": records,
			"pagination": gin.H{
				"limit":  limit,
				"offset": offset,
				"count":  len(records),
			},
		})
	}
}
