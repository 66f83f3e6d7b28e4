package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	"github.com/skarecito/verifactu/internal/orgcontext"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
)

func (s *Server) listSubmissions(c *gin.Context) {
	filter := submissiondomain.ListFilter{
		Status: c.Query("status"),
	}
	filter.PageToken = c.Query("page_token")
	if size := c.Query("page_size"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil {
			filter.PageSize = parsed
		}
	}

	result, err := s.submissionSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": result.Submissions, "page_info": result.PageInfo})
}

func (s *Server) listSubmissionAttempts(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		AbortWithError(c, auditdomain.ErrInvalidOrganization)
		return
	}

	documentID, err := snowflake.ParseString(c.Param("document_id"))
	if err != nil {
		AbortWithError(c, submissiondomain.ErrSubmissionNotFound)
		return
	}

	attempts, err := s.submissionSvc.Attempts(c.Request.Context(), orgID, documentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}
