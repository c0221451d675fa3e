package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
)

func (s *Server) CreatePlan(c *gin.Context) {
	var req plandomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.planSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListPlans(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Code     string `form:"code"`
		Interval string `form:"interval"`
		Currency string `form:"currency"`
		Active   string `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := plandomain.ListPlanRequest{
		Pagination: query.Pagination,
		Code:       strings.TrimSpace(query.Code),
		Interval:   strings.TrimSpace(query.Interval),
		Currency:   strings.TrimSpace(query.Currency),
	}
	switch strings.ToLower(strings.TrimSpace(query.Active)) {
	case "":
	case "true":
		active := true
		req.Active = &active
	case "false":
		active := false
		req.Active = &active
	default:
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	resp, err := s.planSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Plans, "page_info": resp.PageInfo})
}

func (s *Server) GetPlanByID(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.planSvc.GetByID(c.Request.Context(), plandomain.GetPlanRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) CreatePlanVersion(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req plandomain.CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	resp, err := s.planSvc.CreateVersion(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := resp.ID.String()
	s.audit(c, "plan.version_created", "plan", &targetID, map[string]any{
		"code":    resp.Code,
		"version": resp.Version,
	})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ArchivePlan(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.planSvc.Archive(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
