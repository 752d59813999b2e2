package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/handler"
	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/service/audit"
)

type AuditMiddleware struct {
	auditSvc *audit.Service
}

func NewAuditMiddleware(auditSvc *audit.Service) *AuditMiddleware {
	return &AuditMiddleware{auditSvc: auditSvc}
}

// AuditAccess records every admin-surface request before the handler runs.
// If the trail cannot be written the request is refused: unaudited admin
// access is worse than no access.
func (m *AuditMiddleware) AuditAccess(entityType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("not authenticated"))
			c.Abort()
			return
		}

		var entityID uuid.UUID
		if id := c.Param("id"); id != "" {
			entityID, _ = uuid.Parse(id)
		}

		err := m.auditSvc.Record(c.Request.Context(), actor, model.AuditActionAdminAccess,
			entityType, entityID, &audit.Options{
				Details: model.JSONMap{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				},
				IPAddress: c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
			})
		if err != nil {
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("audit trail unavailable"))
			c.Abort()
			return
		}

		c.Next()
	}
}
