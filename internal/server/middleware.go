package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderActor carries the caller identity: "system", "service:<name>",
// "admin:<id>", or "readonly:<id>". The RBAC layer resolves it to a role.
const HeaderActor = "X-Actor"

const contextActorKey = "actor"

// ActorRequired rejects requests without an actor header. Authorization
// itself happens per route.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		if actor == "" {
			AbortWithError(c, ErrMissingActor)
			return
		}
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func (s *Server) requireAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	return c.GetString(contextActorKey)
}

// actorParts splits the context actor into the audit log's actor type and
// optional ID.
func actorParts(c *gin.Context) (string, *string) {
	actor := actorFrom(c)
	if actor == "system" {
		return "system", nil
	}
	if kind, id, ok := strings.Cut(actor, ":"); ok && id != "" {
		return kind, &id
	}
	return actor, nil
}

func (s *Server) audit(c *gin.Context, action, targetType string, targetID *string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType, actorID := actorParts(c)
	_ = s.auditSvc.AuditLog(c.Request.Context(), actorType, actorID, action, targetType, targetID, metadata)
}
