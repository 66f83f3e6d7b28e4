package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
)

func (s *Server) listAuditLogs(c *gin.Context) {
	req := auditdomain.ListAuditLogsRequest{
		Action:     c.Query("action"),
		TargetType: c.Query("target_type"),
		TargetID:   c.Query("target_id"),
	}
	req.PageToken = c.Query("page_token")
	if size := c.Query("page_size"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil {
			req.PageSize = parsed
		}
	}
	if start := c.Query("start_at"); start != "" {
		parsed, err := time.Parse(time.RFC3339, start)
		if err != nil {
			AbortWithError(c, auditdomain.ErrInvalidTimeRange)
			return
		}
		req.StartAt = &parsed
	}
	if end := c.Query("end_at"); end != "" {
		parsed, err := time.Parse(time.RFC3339, end)
		if err != nil {
			AbortWithError(c, auditdomain.ErrInvalidTimeRange)
			return
		}
		req.EndAt = &parsed
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": resp.AuditLogs, "page_info": resp.PageInfo})
}
