package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwtpkg "biliticket/referralhub/pkg/jwt"
	"biliticket/referralhub/pkg/response"
)

// AdminAuth checks that the authenticated user is in the admin user list.
// Must be used after JWTAuth middleware.
func AdminAuth(adminUserIDs []string) gin.HandlerFunc {
	allowed := make(map[uuid.UUID]struct{}, len(adminUserIDs))
	for _, raw := range adminUserIDs {
		if id, err := uuid.Parse(raw); err == nil {
			allowed[id] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		claimsVal, exists := c.Get(ContextKeyUserClaims)
		if !exists {
			response.Unauthorized(c, "missing authentication")
			c.Abort()
			return
		}
		claims, ok := claimsVal.(*jwtpkg.Claims)
		if !ok {
			response.Unauthorized(c, "invalid claims")
			c.Abort()
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			response.Unauthorized(c, "invalid user id")
			c.Abort()
			return
		}

		if _, isAdmin := allowed[userID]; !isAdmin {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}

		c.Next()
	}
}
