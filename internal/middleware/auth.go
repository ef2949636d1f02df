package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/hydrantlabs/designq/pkg/auth"

	"github.com/gin-gonic/gin"
)

// ClientAuthMiddleware guards the submit and status surfaces. A nil
// validator leaves the surface open (dev).
func ClientAuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return bearerMiddleware(validator, "userClaims")
}

// AgentAuthMiddleware guards the callback surface the agent posts to.
func AgentAuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return bearerMiddleware(validator, "agentClaims")
}

func bearerMiddleware(validator auth.Validator, claimsKey string) gin.HandlerFunc {
	if validator == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(claimsKey, claims)
		if sub := strings.TrimSpace(claims.Subject); sub != "" {
			c.Set("subject", sub)
		}
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	return validator.Validate(parts[1])
}
