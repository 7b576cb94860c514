package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mishalsheza/queue-ease/internal/queue"
	"github.com/mishalsheza/queue-ease/internal/response"
)

const actorKey = "actor"

// Middleware checks the access token and stores the caller in the context.
// Browsers cannot set headers on websocket requests, so the token may also
// come as the access_token query parameter.
func Middleware(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "Authorization required",
			})
			return
		}

		actor, err := issuer.ParseAccess(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "Invalid or expired token",
			})
			return
		}

		SetActor(c, actor)
		c.Next()
	}
}

func SetActor(c *gin.Context, actor queue.Actor) {
	c.Set(actorKey, actor)
}

// ActorFrom returns the authenticated caller, or the zero Actor, which every
// queue operation rejects as unauthorized.
func ActorFrom(c *gin.Context) queue.Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return queue.Actor{}
	}
	actor, _ := v.(queue.Actor)
	return actor
}
