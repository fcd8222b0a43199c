package handler

import (
	"context"
	"net/http"

	"taxengine/internal/service"
	"taxengine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ResetSnapshotRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// PeriodHandler serves aggregation, the snapshot lifecycle and exports.
type PeriodHandler struct {
	aggregator      service.PeriodAggregator
	snapshotService service.SnapshotService
	exportService   service.ExportService
}

func NewPeriodHandler(aggregator service.PeriodAggregator, snapshotService service.SnapshotService, exportService service.ExportService) *PeriodHandler {
	return &PeriodHandler{
		aggregator:      aggregator,
		snapshotService: snapshotService,
		exportService:   exportService,
	}
}

func (h *PeriodHandler) RegisterRoutes(router *gin.RouterGroup) {
	periods := router.Group("/api/businesses/:business_id/tax/periods")
	{
		periods.GET("", h.ListSnapshots)
		periods.GET("/:period_key", h.GetSnapshot)
		periods.POST("/:period_key/aggregate", h.Aggregate)
		periods.POST("/:period_key/review", h.Review)
		periods.POST("/:period_key/file", h.File)
		periods.POST("/:period_key/reset", h.Reset)
		periods.GET("/:period_key/export.json", h.ExportJSON)
		periods.GET("/:period_key/export.csv", h.ExportCSV)
		periods.GET("/:period_key/ser.csv", h.ExportSER)
	}
}

// ListSnapshots returns every snapshot of a business
// @Summary      List period snapshots
// @Tags         periods
// @Produce      json
// @Param        business_id  path  string  true  "Business ID"
// @Success      200          {object}  response.Response{data=[]model.TaxPeriodSnapshot}
// @Router       /api/businesses/{business_id}/tax/periods [get]
func (h *PeriodHandler) ListSnapshots(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	snapshots, err := h.snapshotService.List(c.Request.Context(), businessID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, snapshots))
}

// GetSnapshot returns the snapshot of one period
// @Summary      Get a period snapshot
// @Tags         periods
// @Produce      json
// @Param        business_id  path  string  true  "Business ID"
// @Param        period_key   path  string  true  "Period key"
// @Success      200          {object}  response.Response{data=model.TaxPeriodSnapshot}
// @Router       /api/businesses/{business_id}/tax/periods/{period_key} [get]
func (h *PeriodHandler) GetSnapshot(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	snap, err := h.snapshotService.Get(c.Request.Context(), businessID, c.Param("period_key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, snap))
}

// Aggregate computes (or recomputes) the snapshot of a period; filed periods are refused
// @Summary      Aggregate a tax period
// @Tags         periods
// @Produce      json
// @Param        business_id  path  string  true  "Business ID"
// @Param        period_key   path  string  true  "Period key"
// @Success      200          {object}  response.Response{data=model.TaxPeriodSnapshot}
// @Router       /api/businesses/{business_id}/tax/periods/{period_key}/aggregate [post]
func (h *PeriodHandler) Aggregate(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	snap, err := h.aggregator.Aggregate(c.Request.Context(), businessID, c.Param("period_key"), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, snap))
}

// Review freezes a computed snapshot for sign-off
// @Summary      Review a period snapshot
// @Tags         periods
// @Produce      json
// @Param        business_id  path  string  true  "Business ID"
// @Param        period_key   path  string  true  "Period key"
// @Success      200          {object}  response.Response{data=model.TaxPeriodSnapshot}
// @Router       /api/businesses/{business_id}/tax/periods/{period_key}/review [post]
func (h *PeriodHandler) Review(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	snap, err := h.snapshotService.Review(c.Request.Context(), businessID, c.Param("period_key"), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, snap))
}

// File marks a reviewed snapshot as filed
// @Summary      File a period snapshot
// @Tags         periods
// @Produce      json
// @Param        business_id  path  string  true  "Business ID"
// @Param        period_key   path  string  true  "Period key"
// @Success      200          {object}  response.Response{data=model.TaxPeriodSnapshot}
// @Router       /api/businesses/{business_id}/tax/periods/{period_key}/file [post]
func (h *PeriodHandler) File(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	snap, err := h.snapshotService.File(c.Request.Context(), businessID, c.Param("period_key"), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, snap))
}

// Reset reopens a filed snapshot for amendment
// @Summary      Reset a filed snapshot
// @Tags         periods
// @Accept       json
// @Produce      json
// @Param        business_id  path  string                true  "Business ID"
// @Param        period_key   path  string                true  "Period key"
// @Param        request      body  ResetSnapshotRequest  true  "Reset reason"
// @Success      200          {object}  response.Response{data=model.TaxPeriodSnapshot}
// @Router       /api/businesses/{business_id}/tax/periods/{period_key}/reset [post]
func (h *PeriodHandler) Reset(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	var req ResetSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	snap, err := h.snapshotService.Reset(c.Request.Context(), businessID, c.Param("period_key"), req.Reason, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, snap))
}

// ExportJSON downloads the snapshot with its filing lines
// @Summary      Export a period as JSON
// @Tags         periods
// @Produce      json
// @Param        business_id  path  string  true  "Business ID"
// @Param        period_key   path  string  true  "Period key"
// @Success      200  {file}  file
// @Router       /api/businesses/{business_id}/tax/periods/{period_key}/export.json [get]
func (h *PeriodHandler) ExportJSON(c *gin.Context) {
	h.export(c, "application/json", h.exportService.SnapshotJSON)
}

// ExportCSV downloads the filing lines as CSV
// @Summary      Export filing lines as CSV
// @Tags         periods
// @Produce      text/csv
// @Param        business_id  path  string  true  "Business ID"
// @Param        period_key   path  string  true  "Period key"
// @Success      200  {file}  file
// @Router       /api/businesses/{business_id}/tax/periods/{period_key}/export.csv [get]
func (h *PeriodHandler) ExportCSV(c *gin.Context) {
	h.export(c, "text/csv", h.exportService.FilingCSV)
}

// ExportSER downloads the per-state breakdown of a US period
// @Summary      Export the US state breakdown as CSV
// @Tags         periods
// @Produce      text/csv
// @Param        business_id  path  string  true  "Business ID"
// @Param        period_key   path  string  true  "Period key"
// @Success      200  {file}  file
// @Router       /api/businesses/{business_id}/tax/periods/{period_key}/ser.csv [get]
func (h *PeriodHandler) ExportSER(c *gin.Context) {
	h.export(c, "text/csv", h.exportService.SERCSV)
}

type exportFunc func(ctx context.Context, businessID uuid.UUID, periodKey string) ([]byte, error)

func (h *PeriodHandler) export(c *gin.Context, contentType string, render exportFunc) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	out, err := render(c.Request.Context(), businessID, c.Param("period_key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, out)
}
