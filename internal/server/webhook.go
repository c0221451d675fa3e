package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
)

func (s *Server) CreateWebhookEndpoint(c *gin.Context) {
	var req webhookdomain.CreateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	endpoint, err := s.webhookSvc.CreateEndpoint(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := endpoint.ID.String()
	s.audit(c, "webhook_endpoint.created", "webhook_endpoint", &targetID, map[string]any{
		"url": endpoint.URL,
	})

	c.JSON(http.StatusCreated, gin.H{"data": endpoint})
}

func (s *Server) ListWebhookEndpoints(c *gin.Context) {
	var req webhookdomain.ListEndpointRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.webhookSvc.ListEndpoints(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Endpoints, "page_info": resp.PageInfo})
}

func (s *Server) GetWebhookEndpointByID(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	endpoint, err := s.webhookSvc.GetEndpoint(c.Request.Context(), webhookdomain.GetEndpointRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": endpoint})
}

func (s *Server) UpdateWebhookEndpoint(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req webhookdomain.UpdateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = id

	endpoint, err := s.webhookSvc.UpdateEndpoint(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": endpoint})
}

func (s *Server) DeleteWebhookEndpoint(c *gin.Context) {
	id, err := requireIDParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.webhookSvc.DeleteEndpoint(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "webhook_endpoint.deleted", "webhook_endpoint", &id, nil)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListWebhookEvents(c *gin.Context) {
	var req webhookdomain.ListEventRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.webhookSvc.ListEvents(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Events, "page_info": resp.PageInfo})
}
