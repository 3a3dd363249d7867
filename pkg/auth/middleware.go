package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireUser rejects requests without a valid token and stores the claims
// under UserKey.
func RequireUser(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": false, "msg": "Authorization header required", "code": "unauthorized",
			})
			return
		}
		claims, err := issuer.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": false, "msg": "Invalid token", "code": "unauthorized",
			})
			return
		}
		c.Set(string(UserKey), claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireUser.
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(string(UserKey))
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
