package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "auth_user_id"

var errInvalidToken = errors.New("invalid token")

// RequireAuth rejects requests without a valid bearer token and stores the
// token subject as the caller's user id.
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		userID, err := parseToken(raw, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication credentials"})
			return
		}

		SetUserID(c, userID)
		c.Next()
	}
}

// OptionalAuth lets anonymous requests through but still rejects requests
// that present an invalid token.
func OptionalAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		userID, err := parseToken(raw, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication credentials"})
			return
		}

		SetUserID(c, userID)
		c.Next()
	}
}

// UserID returns the authenticated caller's id, if any.
func UserID(c *gin.Context) (int, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}

func SetUserID(c *gin.Context, userID int) {
	c.Set(userIDKey, userID)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func parseToken(raw string, secret []byte) (int, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return 0, errInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return 0, errInvalidToken
	}

	userID, err := strconv.Atoi(sub)
	if err != nil {
		return 0, errInvalidToken
	}

	return userID, nil
}
