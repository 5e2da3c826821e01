package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
)

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.PlanID = strings.TrimSpace(req.PlanID)

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	var query struct {
		OwnerID  string `form:"owner_id"`
		ClientID string `form:"client_id"`
		PlanID   string `form:"plan_id"`
		Status   string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.List(c.Request.Context(), subscriptiondomain.ListSubscriptionRequest{
		OwnerID:  strings.TrimSpace(query.OwnerID),
		ClientID: strings.TrimSpace(query.ClientID),
		PlanID:   strings.TrimSpace(query.PlanID),
		Status:   strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	resp, err := s.subscriptionSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.subscriptionSvc.Cancel(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PauseSubscription(c *gin.Context) {
	resp, err := s.subscriptionSvc.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	resp, err := s.subscriptionSvc.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ApplySubscriptionDiscount(c *gin.Context) {
	var req subscriptiondomain.Discount
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.ApplyDiscount(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RemoveSubscriptionDiscount(c *gin.Context) {
	resp, err := s.subscriptionSvc.RemoveDiscount(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
