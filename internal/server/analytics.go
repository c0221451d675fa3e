package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/recurhq/recur/internal/analytics/domain"
)

func (s *Server) ListAnalyticsSnapshots(c *gin.Context) {
	var req analyticsdomain.ListSnapshotRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.analyticsSvc.ListSnapshots(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Snapshots, "page_info": resp.PageInfo})
}
