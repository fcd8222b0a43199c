package handler

import (
	"net/http"
	"strings"

	"taxengine/internal/repository"
	"taxengine/internal/service"
	"taxengine/pkg/pagination"
	"taxengine/pkg/response"

	"github.com/gin-gonic/gin"
)

type ChangeAnomalyStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

type AnomalyHandler struct {
	detector       service.AnomalyDetector
	anomalyService service.AnomalyService
}

func NewAnomalyHandler(detector service.AnomalyDetector, anomalyService service.AnomalyService) *AnomalyHandler {
	return &AnomalyHandler{detector: detector, anomalyService: anomalyService}
}

func (h *AnomalyHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/businesses/:business_id/tax")
	{
		group.POST("/periods/:period_key/detect", h.Detect)
		group.GET("/anomalies", h.List)
		group.PATCH("/anomalies/:anomaly_id", h.ChangeStatus)
	}
}

// Detect runs the anomaly checks for a period and returns what is currently detected
// @Summary      Detect tax anomalies
// @Description  Runs every anomaly check for the period and upserts the findings
// @Tags         anomalies
// @Produce      json
// @Param        business_id  path  string  true  "Business ID"
// @Param        period_key   path  string  true  "Period key (2024-03, 2024Q1, 2024)"
// @Success      200          {object}  response.Response{data=[]model.TaxAnomaly}
// @Router       /api/businesses/{business_id}/tax/periods/{period_key}/detect [post]
func (h *AnomalyHandler) Detect(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	anomalies, err := h.detector.Detect(c.Request.Context(), businessID, c.Param("period_key"), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, anomalies))
}

// List pages through anomalies, filtered by ?period= and ?status=
// @Summary      List tax anomalies
// @Description  Pages through the anomalies of a business
// @Tags         anomalies
// @Produce      json
// @Param        business_id  path   string  true   "Business ID"
// @Param        period       query  string  false  "Period key filter"
// @Param        status       query  string  false  "OPEN, ACKNOWLEDGED, RESOLVED or IGNORED"
// @Param        page         query  int     false  "Page number (default 1)"
// @Param        limit        query  int     false  "Number of items per page (default 20)"
// @Success      200          {object}  response.Response{data=object}
// @Router       /api/businesses/{business_id}/tax/anomalies [get]
func (h *AnomalyHandler) List(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	p := pagination.Parse(c)
	filter := repository.AnomalyListFilter{
		BusinessID: businessID,
		PeriodKey:  strings.TrimSpace(c.Query("period")),
		Status:     strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		Page:       p.Page,
		Limit:      p.Limit,
	}
	anomalies, total, err := h.anomalyService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paged(http.StatusOK, anomalies, total, p.Page, p.Limit))
}

// ChangeStatus triages one anomaly
// @Summary      Triage a tax anomaly
// @Description  Moves an anomaly to a new status with an optional note
// @Tags         anomalies
// @Accept       json
// @Produce      json
// @Param        business_id  path  string                      true  "Business ID"
// @Param        anomaly_id   path  string                      true  "Anomaly ID"
// @Param        request      body  ChangeAnomalyStatusRequest  true  "New status"
// @Success      200          {object}  response.Response{data=model.TaxAnomaly}
// @Router       /api/businesses/{business_id}/tax/anomalies/{anomaly_id} [patch]
func (h *AnomalyHandler) ChangeStatus(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	anomalyID, ok := uuidParam(c, "anomaly_id")
	if !ok {
		return
	}
	var req ChangeAnomalyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	anomaly, err := h.anomalyService.ChangeStatus(c.Request.Context(), businessID, anomalyID, req.Status, req.Note, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, anomaly))
}
