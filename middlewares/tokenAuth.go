package middlewares

import (
	"RetinaTrack/models"
	"RetinaTrack/utils"
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const authContextKey = "authContext"

// UserLookup resolves the live account behind a token.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// ExtractToken returns the access token from the Authorization header, the
// auth cookie or the accessToken query parameter, in that order.
func ExtractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := c.Cookie(utils.AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("accessToken")
}

// TokenAuthMiddleware validates the access token, loads the live account and
// stores its AuthContext for the handlers. Role and active state come from
// the account, not the token, so changes apply immediately.
func TokenAuthMiddleware(tokens *utils.TokenService, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing access token"})
			return
		}

		claims, err := tokens.ValidateToken(token, utils.TokenKindAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		if !user.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": models.ErrInactiveUser.Error()})
			return
		}

		c.Set(authContextKey, models.AuthContextFor(user))
		c.Next()
	}
}

// RoleAuthMiddleware restricts access to users with the specified role.
func RoleAuthMiddleware(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth, ok := AuthFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User role not found in context"})
			return
		}
		if auth.Role != requiredRole {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: insufficient privileges"})
			return
		}
		c.Next()
	}
}

// AuthFromContext returns the caller stored by TokenAuthMiddleware.
func AuthFromContext(c *gin.Context) (models.AuthContext, bool) {
	v, ok := c.Get(authContextKey)
	if !ok {
		return models.AuthContext{}, false
	}
	auth, ok := v.(models.AuthContext)
	return auth, ok
}

// SetAuthContext stores auth on c. Used by tests and internal callers.
func SetAuthContext(c *gin.Context, auth models.AuthContext) {
	c.Set(authContextKey, auth)
}
