package handler

import (
	"net/http"
	"strings"

	"taxengine/internal/service"
	"taxengine/pkg/response"

	"github.com/gin-gonic/gin"
)

type CatalogHandler struct {
	catalogService service.CatalogService
}

func NewCatalogHandler(catalogService service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalogService: catalogService}
}

func (h *CatalogHandler) RegisterRoutes(router *gin.RouterGroup) {
	business := router.Group("/api/businesses/:business_id/tax")
	{
		business.GET("/components", h.ListComponents)
		business.POST("/components", h.CreateComponent)
		business.GET("/components/:component_id/rates", h.ListRates)
		business.POST("/components/:component_id/rates", h.CreateRate)
		business.POST("/groups", h.CreateGroup)
	}

	shared := router.Group("/api/tax")
	{
		shared.GET("/jurisdictions", h.ListJurisdictions)
		shared.POST("/jurisdictions", h.RegisterJurisdiction)
		shared.POST("/product-rules", h.CreateProductRule)
	}
}

// ListComponents returns the tax components of a business
// @Summary      List tax components
// @Tags         catalog
// @Produce      json
// @Param        business_id  path  string  true  "Business ID"
// @Success      200          {object}  response.Response{data=[]model.TaxComponent}
// @Router       /api/businesses/{business_id}/tax/components [get]
func (h *CatalogHandler) ListComponents(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	components, err := h.catalogService.ListComponents(c.Request.Context(), businessID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, components))
}

// CreateComponent registers a tax component with its base rate
// @Summary      Create a tax component
// @Tags         catalog
// @Accept       json
// @Produce      json
// @Param        business_id  path  string                          true  "Business ID"
// @Param        request      body  service.CreateComponentRequest  true  "Component"
// @Success      200          {object}  response.Response{data=model.TaxComponent}
// @Router       /api/businesses/{business_id}/tax/components [post]
func (h *CatalogHandler) CreateComponent(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	var req service.CreateComponentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	component, err := h.catalogService.CreateComponent(c.Request.Context(), businessID, req, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, component))
}

// ListRates returns the rate history of a component, newest first
// @Summary      List component rates
// @Tags         catalog
// @Produce      json
// @Param        business_id   path  string  true  "Business ID"
// @Param        component_id  path  string  true  "Component ID"
// @Success      200           {object}  response.Response{data=[]model.TaxRate}
// @Router       /api/businesses/{business_id}/tax/components/{component_id}/rates [get]
func (h *CatalogHandler) ListRates(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	componentID, ok := uuidParam(c, "component_id")
	if !ok {
		return
	}
	rates, err := h.catalogService.ListRates(c.Request.Context(), businessID, componentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rates))
}

// CreateRate adds a dated rate; overlapping ranges for the same category are rejected
// @Summary      Create a dated tax rate
// @Description  Rejects ranges overlapping an existing rate of the same category
// @Tags         catalog
// @Accept       json
// @Produce      json
// @Param        business_id   path  string                        true  "Business ID"
// @Param        component_id  path  string                        true  "Component ID"
// @Param        request       body  service.CreateTaxRateRequest  true  "Rate"
// @Success      200           {object}  response.Response{data=model.TaxRate}
// @Router       /api/businesses/{business_id}/tax/components/{component_id}/rates [post]
func (h *CatalogHandler) CreateRate(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	componentID, ok := uuidParam(c, "component_id")
	if !ok {
		return
	}
	var req service.CreateTaxRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	rate, err := h.catalogService.CreateRate(c.Request.Context(), businessID, componentID, req, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rate))
}

// CreateGroup bundles components with their calculation order
// @Summary      Create a tax group
// @Tags         catalog
// @Accept       json
// @Produce      json
// @Param        business_id  path  string                      true  "Business ID"
// @Param        request      body  service.CreateGroupRequest  true  "Group"
// @Success      200          {object}  response.Response{data=model.TaxGroup}
// @Router       /api/businesses/{business_id}/tax/groups [post]
func (h *CatalogHandler) CreateGroup(c *gin.Context) {
	businessID, ok := uuidParam(c, "business_id")
	if !ok {
		return
	}
	var req service.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	group, err := h.catalogService.CreateGroup(c.Request.Context(), businessID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, group))
}

// ListJurisdictions returns the registry of one country
// @Summary      List jurisdictions
// @Tags         catalog
// @Produce      json
// @Param        country  query  string  true  "ISO country code"
// @Success      200      {object}  response.Response{data=[]model.TaxJurisdiction}
// @Router       /api/tax/jurisdictions [get]
func (h *CatalogHandler) ListJurisdictions(c *gin.Context) {
	country := strings.ToUpper(strings.TrimSpace(c.Query("country")))
	if country == "" {
		badRequest(c, "country is required")
		return
	}
	jurisdictions, err := h.catalogService.ListJurisdictions(c.Request.Context(), country)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, jurisdictions))
}

// RegisterJurisdiction adds a code to the jurisdiction registry
// @Summary      Register a jurisdiction
// @Tags         catalog
// @Accept       json
// @Produce      json
// @Param        request  body  service.RegisterJurisdictionRequest  true  "Jurisdiction"
// @Success      200      {object}  response.Response{data=model.TaxJurisdiction}
// @Router       /api/tax/jurisdictions [post]
func (h *CatalogHandler) RegisterJurisdiction(c *gin.Context) {
	var req service.RegisterJurisdictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	jurisdiction, err := h.catalogService.RegisterJurisdiction(c.Request.Context(), req, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, jurisdiction))
}

// CreateProductRule records a dated taxability rule for a product category
// @Summary      Create a product rule
// @Tags         catalog
// @Accept       json
// @Produce      json
// @Param        request  body  service.CreateProductRuleRequest  true  "Product rule"
// @Success      200      {object}  response.Response{data=model.TaxProductRule}
// @Router       /api/tax/product-rules [post]
func (h *CatalogHandler) CreateProductRule(c *gin.Context) {
	var req service.CreateProductRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	rule, err := h.catalogService.CreateProductRule(c.Request.Context(), req, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rule))
}
