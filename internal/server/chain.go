package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	"github.com/skarecito/verifactu/internal/orgcontext"
)

func (s *Server) verifyChain(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		AbortWithError(c, auditdomain.ErrInvalidOrganization)
		return
	}

	report, err := s.chainSvc.VerifySeries(c.Request.Context(), orgID, c.Param("series"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
