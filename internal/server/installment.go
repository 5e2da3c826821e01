package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
)

// legacyInstallment adds the field names older consumers still read.
type legacyInstallment struct {
	installmentdomain.View
	Monto             decimal.Decimal `json:"monto"`
	Importe           decimal.Decimal `json:"importe"`
	FechaPago         *time.Time      `json:"fechaPago,omitempty"`
	FechaPagoOpcional *time.Time      `json:"fechaPagoOpcional,omitempty"`
}

func toLegacy(view installmentdomain.View) legacyInstallment {
	return legacyInstallment{
		View:              view,
		Monto:             view.Amount,
		Importe:           view.Amount,
		FechaPago:         view.PaymentDate,
		FechaPagoOpcional: view.PaymentDate,
	}
}

func renderInstallment(c *gin.Context, view installmentdomain.View) any {
	if wantsLegacy(c.Query("legacy")) {
		return toLegacy(view)
	}
	return view
}

func renderInstallments(c *gin.Context, views []installmentdomain.View) any {
	if wantsLegacy(c.Query("legacy")) {
		return lo.Map(views, func(view installmentdomain.View, _ int) legacyInstallment {
			return toLegacy(view)
		})
	}
	return views
}

func (s *Server) GenerateInstallments(c *gin.Context) {
	var req installmentdomain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriptionID = c.Param("id")

	resp, err := s.installmentSvc.Generate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListSubscriptionInstallments(c *gin.Context) {
	resp, err := s.installmentSvc.ListBySubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": renderInstallments(c, resp)})
}

func (s *Server) ListClientInstallments(c *gin.Context) {
	clientID := strings.TrimSpace(c.Query("client_id"))
	if clientID == "" {
		AbortWithError(c, newValidationError("client_id", "required", "client_id is required"))
		return
	}

	resp, err := s.installmentSvc.ListByClient(c.Request.Context(), clientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": renderInstallments(c, resp)})
}

func (s *Server) ListPendingInstallments(c *gin.Context) {
	includeOverdue, err := parseOptionalBool(c.Query("include_overdue"))
	if err != nil {
		AbortWithError(c, newValidationError("include_overdue", "invalid_include_overdue", "invalid include_overdue"))
		return
	}

	resp, err := s.installmentSvc.ListPending(c.Request.Context(), installmentdomain.ListPendingRequest{
		IncludeOverdue: lo.FromPtr(includeOverdue),
		ClientID:       strings.TrimSpace(c.Query("client_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": renderInstallments(c, resp)})
}

func (s *Server) ListOverdueInstallments(c *gin.Context) {
	resp, err := s.installmentSvc.ListOverdue(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": renderInstallments(c, resp)})
}

func (s *Server) GetInstallmentByID(c *gin.Context) {
	resp, err := s.installmentSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": renderInstallment(c, resp)})
}
