package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

// AuthMiddleware parses an HS256 bearer token and stores its user_id claim on
// the context. With required=false a missing or bad token is ignored; with
// required=true the request is rejected with 401.
func AuthMiddleware(secret string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		reject := func(msg string) {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
				return
			}
			c.Next()
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			reject("Authorization header required")
			return
		}

		// Check if the header starts with "Bearer "
		if !strings.HasPrefix(authHeader, "Bearer ") {
			reject("Invalid authorization header format")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || secret == "" {
			reject("Invalid token")
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if v, exists := claims["user_id"]; exists {
				if id, ok := v.(float64); ok {
					c.Set(userIDKey, int64(id))
				}
			}
		}

		c.Next()
	}
}

// UserID returns the authenticated user id, if a valid token was presented.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
