package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"boatmarket/internal/models"
	"boatmarket/internal/security"
)

const (
	ContextClaims = "access_claims"
	ContextUser   = "current_user"
)

type UserLookup interface {
	GetByID(ctx context.Context, id string) (models.User, error)
}

type SessionLookup interface {
	GetByID(ctx context.Context, id string) (models.Session, error)
	Touch(ctx context.Context, sessionID string, ip string, userAgent string) error
}

// Auth rejects requests without a valid bearer token bound to a live
// session of an active user.
func Auth(secret string, users UserLookup, sessions SessionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if code, status := authenticate(c, secret, users, sessions); code != "" {
			c.AbortWithStatusJSON(status, gin.H{"error": code})
			return
		}
		c.Next()
	}
}

// OptionalAuth resolves the caller when a token is present and lets
// anonymous requests through.
func OptionalAuth(secret string, users UserLookup, sessions SessionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			_, _ = authenticate(c, secret, users, sessions)
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, secret string, users UserLookup, sessions SessionLookup) (string, int) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return "missing_token", http.StatusUnauthorized
	}

	claims, err := security.ParseAccessToken(strings.TrimPrefix(authHeader, "Bearer "), secret)
	if err != nil {
		return "invalid_token", http.StatusUnauthorized
	}

	ctx := c.Request.Context()
	session, err := sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return "session_not_found", http.StatusUnauthorized
	}
	if session.UserID != claims.UserID || session.DeviceID != claims.DeviceID {
		return "session_mismatch", http.StatusUnauthorized
	}

	user, err := users.GetByID(ctx, claims.UserID)
	if err != nil {
		return "user_not_found", http.StatusUnauthorized
	}
	if !user.Active() {
		return "user_inactive", http.StatusForbidden
	}

	_ = sessions.Touch(ctx, session.ID, c.ClientIP(), c.GetHeader("User-Agent"))

	c.Set(ContextClaims, *claims)
	c.Set(ContextUser, user)
	return "", 0
}

// CurrentUser returns the user resolved by Auth or OptionalAuth.
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}

func CurrentClaims(c *gin.Context) (security.AccessClaims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return security.AccessClaims{}, false
	}
	claims, ok := v.(security.AccessClaims)
	return claims, ok
}
