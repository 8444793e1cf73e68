package auth

import (
	"net/http"
	"strings"

	"barpos/pkg/ctxkeys"

	"github.com/gin-gonic/gin"
)

// DefaultSessionCookie is the cookie carrying the session JWT unless
// overridden via SESSION_COOKIE_NAME.
const DefaultSessionCookie = "pos_session"

// ServiceAuthMiddleware validates service-to-service auth tokens
func ServiceAuthMiddleware(expectedToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No authorization header"})
			c.Abort()
			return
		}

		// Extract Bearer token
		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			c.Abort()
			return
		}

		// Validate token
		if err := ValidateServiceToken(parts[1], expectedToken); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}

// ExtractCredential pulls the session credential from an httpOnly cookie,
// the Authorization header, or a token query parameter, in that order.
// Streaming clients (EventSource) cannot set headers, hence the query
// fallback.
func ExtractCredential(c *gin.Context, cookieName string) string {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	if cookieToken, err := c.Cookie(cookieName); err == nil && cookieToken != "" {
		return cookieToken
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.Split(auth, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return c.Query("token")
}

// SessionAuthMiddleware resolves the request's session credential to a
// principal and injects it into the Gin context. Requests without a valid
// credential are rejected with 401.
func SessionAuthMiddleware(verifier Verifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := ExtractCredential(c, cookieName)
		if credential == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		principal, err := verifier.Verify(credential)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session credential"})
			c.Abort()
			return
		}

		c.Set(string(ctxkeys.KeyUserID), principal.UserID)
		c.Set(string(ctxkeys.KeyTenantID), principal.TenantID)
		c.Set(string(ctxkeys.KeyEmail), principal.Email)
		c.Set(string(ctxkeys.KeyRole), principal.Role)
		c.Set(string(ctxkeys.KeyAuthType), "session")
		c.Next()
	}
}

// RequireRole gates a route to the given roles. Must run after
// SessionAuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(string(ctxkeys.KeyRole))
		if role == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		if _, ok := allowed[role]; !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			c.Abort()
			return
		}
		c.Next()
	}
}
