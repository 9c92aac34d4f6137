package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fyzo-chat/internal/identity"
)

const (
	UserIDKey    = "userID"
	RoleKey      = "role"
	RequestIDKey = "request_id"
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// AuthMiddleware authenticates the caller from the Authorization header or
// refreshToken cookie and stores the identity on the gin context.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := verifier.Verify(c.Request.Context(), identity.TokenFromRequest(c.Request))
		if err != nil {
			message := "Invalid token"
			switch {
			case errors.Is(err, identity.ErrMissingToken):
				message = "Authentication required"
			case errors.Is(err, identity.ErrTokenExpired):
				message = "Token expired"
			case errors.Is(err, identity.ErrSessionInactive):
				message = "Session expired or revoked"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": message})
			return
		}

		c.Set(UserIDKey, id.UserID)
		c.Set(RoleKey, id.Role)
		c.Next()
	}
}

// RequestID propagates X-Request-ID, generating one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
			c.Request.Header.Set("X-Request-ID", requestID)
		}
		c.Set(RequestIDKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}
