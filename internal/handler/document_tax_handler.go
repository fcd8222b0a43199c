package handler

import (
	"net/http"

	"taxengine/internal/service"
	"taxengine/pkg/response"

	"github.com/gin-gonic/gin"
)

type DocumentTaxHandler struct {
	documentTaxService service.DocumentTaxService
}

func NewDocumentTaxHandler(documentTaxService service.DocumentTaxService) *DocumentTaxHandler {
	return &DocumentTaxHandler{documentTaxService: documentTaxService}
}

func (h *DocumentTaxHandler) RegisterRoutes(router *gin.RouterGroup) {
	docs := router.Group("/api/documents/:document_id/tax")
	{
		docs.GET("/preview", h.Preview)
		docs.POST("/recalculate", h.Recalculate)
	}
}

// Preview computes the tax of every line without persisting detail rows
// @Summary      Preview document tax
// @Tags         documents
// @Produce      json
// @Param        document_id  path  string  true  "Document ID"
// @Success      200          {object}  response.Response{data=object}
// @Router       /api/documents/{document_id}/tax/preview [get]
func (h *DocumentTaxHandler) Preview(c *gin.Context) {
	documentID, ok := uuidParam(c, "document_id")
	if !ok {
		return
	}
	results, err := h.documentTaxService.Preview(c.Request.Context(), documentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, results))
}

// Recalculate replaces the stored tax detail rows of the document
// @Summary      Recalculate document tax
// @Tags         documents
// @Produce      json
// @Param        document_id  path  string  true  "Document ID"
// @Success      200          {object}  response.Response{data=object}
// @Router       /api/documents/{document_id}/tax/recalculate [post]
func (h *DocumentTaxHandler) Recalculate(c *gin.Context) {
	documentID, ok := uuidParam(c, "document_id")
	if !ok {
		return
	}
	results, err := h.documentTaxService.Recalculate(c.Request.Context(), documentID, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, results))
}
