package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	var req auditdomain.ListAuditLogRequest
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.Action = strings.TrimSpace(c.Query("action"))
	req.TargetType = strings.TrimSpace(c.Query("target_type"))
	req.TargetID = strings.TrimSpace(c.Query("target_id"))
	req.ActorType = strings.TrimSpace(c.Query("actor_type"))

	startAt, err := parseOptionalTime(c.Query("start_at"), false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	req.StartAt = startAt

	endAt, err := parseOptionalTime(c.Query("end_at"), true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}
	req.EndAt = endAt

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
