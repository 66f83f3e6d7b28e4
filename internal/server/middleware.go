package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/skarecito/verifactu/internal/audit/domain"
	auditcontext "github.com/skarecito/verifactu/internal/auditcontext"
	obscontext "github.com/skarecito/verifactu/internal/observability/context"
	"github.com/skarecito/verifactu/internal/orgcontext"
)

// OrgMiddleware resolves the acting organization from the X-Org-Id header.
// Every /api route is scoped to exactly one organization.
func OrgMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("X-Org-Id"))
		if raw == "" {
			AbortWithError(c, auditdomain.ErrInvalidOrganization)
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, auditdomain.ErrInvalidOrganization)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		if actor := strings.TrimSpace(c.GetHeader("X-Actor-Id")); actor != "" {
			ctx = auditcontext.WithActor(ctx, auditcontext.ActorTypeUser, actor)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
