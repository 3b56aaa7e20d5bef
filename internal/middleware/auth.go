package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"teleconsult-server/internal/models"
	"teleconsult-server/internal/utils"
)

const (
	actorKey    = "actor"
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

// AuthMiddleware creates a middleware for JWT authentication. Browsers cannot
// set headers on a WebSocket upgrade, so the access_token query parameter is
// accepted for upgrade requests only.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			utils.Unauthorized(c, "Invalid token: "+err.Error())
			c.Abort()
			return
		}

		actor := claims.Actor()
		c.Set(actorKey, actor)
		c.Set(userIDKey, actor.SubjectID)
		c.Set(userRoleKey, actor.Role)

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			if token := c.Query("access_token"); token != "" {
				return token, true
			}
		}
		utils.Unauthorized(c, "Authorization header required")
		c.Abort()
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		utils.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return "", false
	}
	return parts[1], true
}

// RoleAuthMiddleware creates a middleware for role-based authorization.
// It should be used *after* AuthMiddleware.
func RoleAuthMiddleware(allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, exists := ActorFromContext(c)
		if !exists {
			utils.InternalServerError(c, "User role not found in context. AuthMiddleware might be missing.")
			c.Abort()
			return
		}

		isAllowed := false
		for _, allowedRole := range allowedRoles {
			if actor.Role == allowedRole {
				isAllowed = true
				break
			}
		}

		if !isAllowed {
			utils.Forbidden(c, "You do not have permission to access this resource.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// ActorFromContext returns the authenticated caller set by AuthMiddleware.
func ActorFromContext(c *gin.Context) (models.Actor, bool) {
	v, exists := c.Get(actorKey)
	if !exists {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
