package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sovann/taskhub-core/internal/policy"
)

const actorKey = "actor"

// RequireAuth validates the bearer token and stashes the actor on the context.
func RequireAuth(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(401, gin.H{"success": false, "message": "missing or invalid authorization header"})
			return
		}
		tokenStr := strings.TrimPrefix(h, "Bearer ")
		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"success": false, "message": "invalid token"})
			return
		}
		c.Set(actorKey, policy.Actor{UserID: claims.UserID, GlobalRoles: claims.Roles})
		c.Next()
	}
}

// ActorFrom retrieves the authenticated actor set by RequireAuth.
func ActorFrom(c *gin.Context) policy.Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return policy.Actor{}
	}
	return v.(policy.Actor)
}
