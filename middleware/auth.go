package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"branch-orders-api/config"
	"branch-orders-api/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	BranchID string `json:"branch_id"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed JWT for a user acting for a branch
func GenerateToken(user *models.User, branchID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(config.TokenTTL)
	claims := Claims{
		UserID:   user.ID,
		Email:    user.Email,
		BranchID: branchID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(config.JWTSecret)
	return signed, expiresAt, err
}

// ParseToken validates a signed token and returns its claims.
func ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return config.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// bearerToken reads the token from the Authorization header. Browsers cannot
// set headers on WebSocket upgrades, so the access_token query parameter is
// accepted as well.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("access_token")
}

// AuthRequired validates the JWT and injects claims into context
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required (Bearer <token>)"})
			c.Abort()
			return
		}
		claims, err := ParseToken(tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		c.Set("userID", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("branchID", claims.BranchID)
		c.Set("claims", claims)
		c.Set("token", tokenStr)
		c.Next()
	}
}

// BranchRequired rejects tokens that are not mapped to a branch
func BranchRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetBranchID(c) == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "No branch is associated with this session"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// APIKeyRequired checks the X-API-Key header when a key is configured
func APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.APIKey == "" {
			c.Next()
			return
		}
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(config.APIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID extracts caller user ID from context
func GetUserID(c *gin.Context) string {
	return c.GetString("userID")
}

// GetBranchID extracts the caller's branch ID from context
func GetBranchID(c *gin.Context) string {
	return c.GetString("branchID")
}

// GetToken returns the raw bearer token of the request
func GetToken(c *gin.Context) string {
	return c.GetString("token")
}

// GetClaims returns the parsed token claims
func GetClaims(c *gin.Context) *Claims {
	val, ok := c.Get("claims")
	if !ok {
		return nil
	}
	claims, _ := val.(*Claims)
	return claims
}
