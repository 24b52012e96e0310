package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	jwtpkg "biliticket/referralhub/pkg/jwt"
	"biliticket/referralhub/pkg/response"
)

const ContextKeyUserClaims = "user_claims"

// JWTAuth verifies the identity provider's access token and stores its
// claims on the context.
func JWTAuth(jwtManager *jwtpkg.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		claims, err := jwtManager.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		if claims.TokenType != jwtpkg.TokenTypeAccess {
			response.Unauthorized(c, "invalid token type")
			c.Abort()
			return
		}

		if _, err := claims.UserID(); err != nil {
			response.Unauthorized(c, "invalid user id")
			c.Abort()
			return
		}

		c.Set(ContextKeyUserClaims, claims)
		c.Next()
	}
}
