package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"branch-orders-api/config"
	"branch-orders-api/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func withSecret(t *testing.T) {
	prevSecret, prevTTL, prevKey := config.JWTSecret, config.TokenTTL, config.APIKey
	config.JWTSecret = []byte("middleware-test")
	config.TokenTTL = time.Hour
	config.APIKey = ""
	t.Cleanup(func() {
		config.JWTSecret, config.TokenTTL, config.APIKey = prevSecret, prevTTL, prevKey
	})
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthRequired(), BranchRequired(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": GetUserID(c), "branch": GetBranchID(c), "token": GetToken(c)})
	})
	return r
}

func TestGenerateAndParseToken(t *testing.T) {
	withSecret(t)
	token, expiresAt, err := GenerateToken(&models.User{ID: "u1", Email: "cardiff@tasteofpeshawar.com"}, "b1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "b1", claims.BranchID)

	config.JWTSecret = []byte("rotated")
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	withSecret(t)
	claims := Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(config.JWTSecret)
	require.NoError(t, err)
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestAuthRequired(t *testing.T) {
	withSecret(t)
	r := newEngine()
	token, _, err := GenerateToken(&models.User{ID: "u1"}, "b1")
	require.NoError(t, err)
	unmapped, _, err := GenerateToken(&models.User{ID: "u2"}, "")
	require.NoError(t, err)

	cases := []struct {
		name string
		req  func() *http.Request
		code int
	}{
		{"header", func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			return req
		}, http.StatusOK},
		{"query parameter", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/me?access_token="+token, nil)
		}, http.StatusOK},
		{"missing", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/me", nil)
		}, http.StatusUnauthorized},
		{"not bearer", func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Basic "+token)
			return req
		}, http.StatusUnauthorized},
		{"no branch", func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Bearer "+unmapped)
			return req
		}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, tc.req())
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}

func TestAPIKeyRequired(t *testing.T) {
	withSecret(t)
	r := gin.New()
	r.GET("/ping", APIKeyRequired(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code, "no key configured")

	config.APIKey = "anon-key"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-Key", "anon-key")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
