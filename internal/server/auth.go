package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const actorContextKey = "engine.actor"

// AuthRequired establishes the request actor. Service tokens map to the
// automated actors; end users arrive with an upstream-verified user id
// header. Requests with neither are rejected.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)

		switch {
		case token != "" && s.cfg.AdminToken != "" && token == s.cfg.AdminToken:
			c.Set(actorContextKey, "system")
		case token != "" && s.cfg.SchedulerToken != "" && token == s.cfg.SchedulerToken:
			c.Set(actorContextKey, "scheduler")
		default:
			userID := strings.TrimSpace(c.GetHeader("X-User-Id"))
			if userID == "" {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			parsed, err := snowflake.ParseString(userID)
			if err != nil || parsed == 0 {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			c.Set(actorContextKey, "user:"+parsed.String())
		}

		c.Next()
	}
}

func (s *Server) actor(c *gin.Context) string {
	if actor, ok := c.Get(actorContextKey); ok {
		if str, ok := actor.(string); ok {
			return str
		}
	}
	return ""
}

// authorize checks the actor's role against the requested capability.
func (s *Server) authorize(c *gin.Context, orgID snowflake.ID, object, action string) error {
	return s.authzSvc.Authorize(c.Request.Context(), s.actor(c), orgID.String(), object, action)
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
