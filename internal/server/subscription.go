package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
)

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := resp.ID.String()
	s.audit(c, "subscription.created", "subscription", &targetID, map[string]any{
		"account_id": resp.AccountID.String(),
		"plan_id":    resp.PlanID.String(),
		"status":     string(resp.Status),
	})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	var req subscriptiondomain.ListSubscriptionRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Subscriptions, "page_info": resp.PageInfo})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.subscriptionSvc.GetByID(c.Request.Context(), subscriptiondomain.GetSubscriptionRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListSubscriptionHistory(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req subscriptiondomain.ListHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriptionID = id

	resp, err := s.subscriptionSvc.ListHistory(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.History, "page_info": resp.PageInfo})
}

func (s *Server) UpdateSubscription(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req subscriptiondomain.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	resp, err := s.subscriptionSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req subscriptiondomain.CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	resp, err := s.subscriptionSvc.Cancel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := resp.ID.String()
	s.audit(c, "subscription.cancelled", "subscription", &targetID, map[string]any{
		"immediate":            req.Immediate,
		"status":               string(resp.Status),
		"cancel_at_period_end": resp.CancelAtPeriodEnd,
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PauseSubscription(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req subscriptiondomain.PauseSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	resp, err := s.subscriptionSvc.Pause(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := resp.ID.String()
	s.audit(c, "subscription.paused", "subscription", &targetID, nil)

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptionSvc.Resume(c.Request.Context(), subscriptiondomain.ResumeSubscriptionRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := resp.ID.String()
	s.audit(c, "subscription.resumed", "subscription", &targetID, nil)

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ChangeSubscriptionPlan(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req subscriptiondomain.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	resp, err := s.subscriptionSvc.ChangePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := resp.ID.String()
	s.audit(c, "subscription.plan_changed", "subscription", &targetID, map[string]any{
		"new_plan_id": req.NewPlanID,
		"timing":      string(req.Timing),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
