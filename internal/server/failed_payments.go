package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingoperationsdomain "github.com/smallbiznis/installments/internal/billingoperations/domain"
)

func (s *Server) ListFailedPayments(c *gin.Context) {
	minAgeDays, err := parseOptionalInt(c.Query("min_age_days"))
	if err != nil {
		AbortWithError(c, newValidationError("min_age_days", "invalid_min_age_days", "invalid min_age_days"))
		return
	}
	includeIrrecoverable, err := parseOptionalBool(c.Query("include_irrecoverable"))
	if err != nil {
		AbortWithError(c, newValidationError("include_irrecoverable", "invalid_include_irrecoverable", "invalid include_irrecoverable"))
		return
	}

	resp, err := s.billingOperationsSvc.ListFailedPayments(c.Request.Context(), billingoperationsdomain.FailedPaymentFilter{
		OwnerID:              strings.TrimSpace(c.Query("owner_id")),
		PlanID:               strings.TrimSpace(c.Query("plan_id")),
		MinAgeDays:           minAgeDays,
		IncludeIrrecoverable: includeIrrecoverable,
		SortBy:               billingoperationsdomain.SortBy(strings.TrimSpace(c.Query("sort_by"))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
