package handler

import (
	"net/http"
	"strings"

	"taxengine/internal/service"
	"taxengine/pkg/money"
	"taxengine/pkg/period"
	"taxengine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ActorHeader carries the name recorded in audit logs for the request.
const ActorHeader = "X-Actor"

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{service.ErrBusinessNotFound, http.StatusNotFound, "BUSINESS_NOT_FOUND"},
	{service.ErrDocumentNotFound, http.StatusNotFound, "DOCUMENT_NOT_FOUND"},
	{service.ErrGroupNotFound, http.StatusNotFound, "GROUP_NOT_FOUND"},
	{service.ErrComponentNotFound, http.StatusNotFound, "COMPONENT_NOT_FOUND"},
	{service.ErrSnapshotNotFound, http.StatusNotFound, "SNAPSHOT_NOT_FOUND"},
	{service.ErrAnomalyNotFound, http.StatusNotFound, "ANOMALY_NOT_FOUND"},
	{service.ErrSnapshotFiled, http.StatusConflict, "SNAPSHOT_FILED"},
	{service.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{service.ErrRateOverlap, http.StatusConflict, "RATE_OVERLAP"},
	{service.ErrProductRuleOverlap, http.StatusConflict, "PRODUCT_RULE_OVERLAP"},
	{service.ErrGroupBusinessMismatch, http.StatusUnprocessableEntity, "GROUP_BUSINESS_MISMATCH"},
	{service.ErrMissingBaseAmount, http.StatusUnprocessableEntity, "MISSING_BASE_AMOUNT"},
	{service.ErrMissingFXRate, http.StatusUnprocessableEntity, "MISSING_FX_RATE"},
	{money.ErrMissingRate, http.StatusUnprocessableEntity, "MISSING_FX_RATE"},
	{service.ErrInvalidProductRule, http.StatusBadRequest, "INVALID_PRODUCT_RULE"},
	{service.ErrInvalidJurisdiction, http.StatusBadRequest, "INVALID_JURISDICTION"},
	{service.ErrInvalidRate, http.StatusBadRequest, "INVALID_RATE"},
	{service.ErrResetReasonRequired, http.StatusBadRequest, "RESET_REASON_REQUIRED"},
	{period.ErrInvalidPeriodKey, http.StatusBadRequest, "INVALID_PERIOD"},
}

// respondError maps domain errors to HTTP statuses; anything unknown is logged and returned as 500.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if eris.Is(err, m.target) {
			c.JSON(m.status, response.ErrorCode(m.status, m.code, err.Error()))
			return
		}
	}
	zap.L().Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.String("error", eris.ToString(err, true)),
	)
	c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Internal server error"))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, msg))
}

// uuidParam parses a uuid path parameter, writing a 400 when it is malformed.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func actor(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(ActorHeader))
}
