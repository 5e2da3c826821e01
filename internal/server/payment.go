package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	dunningdomain "github.com/smallbiznis/installments/internal/dunning/domain"
)

func (s *Server) ProcessPayment(c *gin.Context) {
	var req dunningdomain.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.InstallmentID = c.Param("id")

	resp, err := s.dunningSvc.ProcessPayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkPaymentFailed(c *gin.Context) {
	var req dunningdomain.MarkFailedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	req.InstallmentID = c.Param("id")

	resp, err := s.dunningSvc.MarkFailed(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SchedulePaymentRetry(c *gin.Context) {
	var req dunningdomain.ScheduleRetryRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	req.InstallmentID = c.Param("id")

	resp, err := s.dunningSvc.ScheduleRetry(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) HandleFailedPayment(c *gin.Context) {
	var req dunningdomain.HandleFailedPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !req.Action.Valid() {
		AbortWithError(c, newValidationError("action", "invalid_action", "action must be retry, update_method, mark_resolved or contact_client"))
		return
	}
	req.InstallmentID = c.Param("id")

	resp, err := s.dunningSvc.HandleFailedPayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkIrrecoverable(c *gin.Context) {
	var req dunningdomain.MarkIrrecoverableRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	req.InstallmentID = c.Param("id")

	resp, err := s.dunningSvc.MarkIrrecoverable(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, out any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		AbortWithError(c, invalidRequestError())
		return false
	}
	return true
}
