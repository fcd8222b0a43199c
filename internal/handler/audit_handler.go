package handler

import (
	"net/http"

	"taxengine/internal/service"
	"taxengine/pkg/pagination"
	"taxengine/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/businesses/:business_id/audit-logs")
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs pages through rate changes, snapshot transitions and triage decisions of a business
// @Summary      Get audit logs
// @Description  Retrieves the audit trail of a business, newest first
// @Tags         audit
// @Produce      json
// @Param        business_id  path   string  true   "Business ID"
// @Param        page         query  int     false  "Page number (default 1)"
// @Param        limit        query  int     false  "Number of items per page (default 20)"
// @Success      200          {object}  response.Response{data=object}
// @Router       /api/businesses/{business_id}/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	p := pagination.Parse(c)

	logs, total, err := h.auditService.List(c.Request.Context(), businessID, p.Page, p.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to retrieve audit logs: "+err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paged(http.StatusOK, logs, total, p.Page, p.Limit))
}
