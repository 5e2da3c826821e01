package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	forecastdomain "github.com/smallbiznis/installments/internal/forecast/domain"
)

func (s *Server) GetForecastReport(c *gin.Context) {
	projectionMonths, err := parseIntDefault(c.Query("projection_months"), 0)
	if err != nil || projectionMonths < 0 {
		AbortWithError(c, newValidationError("projection_months", "invalid_projection_months", "invalid projection_months"))
		return
	}
	analysisMonths, err := parseIntDefault(c.Query("analysis_months"), 0)
	if err != nil || analysisMonths < 0 {
		AbortWithError(c, newValidationError("analysis_months", "invalid_analysis_months", "invalid analysis_months"))
		return
	}

	resp, err := s.forecastSvc.GetReport(c.Request.Context(), forecastdomain.ReportRequest{
		OwnerID:          strings.TrimSpace(c.Query("owner_id")),
		ProjectionMonths: projectionMonths,
		AnalysisMonths:   analysisMonths,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetForecastScenarios(c *gin.Context) {
	var req forecastdomain.ScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)

	resp, err := s.forecastSvc.GetScenarioProjections(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
