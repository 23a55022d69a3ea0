package handlers_test

import (
	"net/http"
	"testing"

	"branch-orders-api/middleware"
	"branch-orders-api/models"
	"branch-orders-api/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchLogin(t *testing.T) {
	fx, r := setup(t)

	t.Run("unknown email writes nothing", func(t *testing.T) {
		w, body := perform(t, r, apiRequest{
			method: http.MethodPost,
			path:   "/api/auth/branch-login",
			body:   map[string]string{"email": "nowhere@tasteofpeshawar.com", "password": testutil.CardiffPassword},
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid credentials", body["error"])
		assert.Zero(t, testutil.Count(t, fx.DB, &models.User{}))
		assert.Zero(t, testutil.Count(t, fx.DB, &models.BranchSession{}))
	})

	t.Run("wrong password writes nothing", func(t *testing.T) {
		w, body := perform(t, r, apiRequest{
			method: http.MethodPost,
			path:   "/api/auth/branch-login",
			body:   map[string]string{"email": testutil.CardiffEmail, "password": testutil.WembleyPassword},
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid credentials", body["error"])
		assert.Zero(t, testutil.Count(t, fx.DB, &models.User{}))
		assert.Zero(t, testutil.Count(t, fx.DB, &models.BranchSession{}))
	})

	t.Run("missing password is a bad request", func(t *testing.T) {
		w, _ := perform(t, r, apiRequest{
			method: http.MethodPost,
			path:   "/api/auth/branch-login",
			body:   map[string]string{"email": testutil.CardiffEmail},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("first sign-in provisions user and mapping", func(t *testing.T) {
		w, body := perform(t, r, apiRequest{
			method: http.MethodPost,
			path:   "/api/auth/branch-login",
			body:   map[string]string{"email": "CARDIFF@tasteofpeshawar.com", "password": testutil.CardiffPassword},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		branch := body["branch"].(map[string]interface{})
		assert.Equal(t, fx.Cardiff.ID, branch["id"])
		assert.NotContains(t, branch, "password_hash")

		session := body["session"].(map[string]interface{})
		claims, err := middleware.ParseToken(session["access_token"].(string))
		require.NoError(t, err)
		assert.Equal(t, fx.Cardiff.ID, claims.BranchID)
		assert.Equal(t, testutil.CardiffEmail, claims.Email)

		var mapping models.BranchSession
		require.NoError(t, fx.DB.Where("user_id = ?", claims.UserID).First(&mapping).Error)
		assert.Equal(t, fx.Cardiff.ID, mapping.BranchID)
	})

	t.Run("repeat sign-in reuses user", func(t *testing.T) {
		login(t, r, testutil.CardiffEmail, testutil.CardiffPassword)
		assert.EqualValues(t, 1, testutil.Count(t, fx.DB, &models.User{}))
		assert.EqualValues(t, 1, testutil.Count(t, fx.DB, &models.BranchSession{}))
	})
}

func TestSessionEndpoints(t *testing.T) {
	fx, r := setup(t)
	token := login(t, r, testutil.WembleyEmail, testutil.WembleyPassword)

	t.Run("session", func(t *testing.T) {
		w, body := perform(t, r, apiRequest{method: http.MethodGet, path: "/api/auth/session", token: token})
		require.Equal(t, http.StatusOK, w.Code)
		session := body["session"].(map[string]interface{})
		assert.Equal(t, token, session["access_token"])
		user := session["user"].(map[string]interface{})
		assert.Equal(t, testutil.WembleyEmail, user["email"])
	})

	t.Run("branch", func(t *testing.T) {
		w, body := perform(t, r, apiRequest{method: http.MethodGet, path: "/api/auth/branch", token: token})
		require.Equal(t, http.StatusOK, w.Code)
		branch := body["branch"].(map[string]interface{})
		assert.Equal(t, fx.Wembley.ID, branch["id"])
		assert.Equal(t, "Wembley", branch["name"])
	})

	t.Run("refresh", func(t *testing.T) {
		w, body := perform(t, r, apiRequest{method: http.MethodPost, path: "/api/auth/refresh", token: token})
		require.Equal(t, http.StatusOK, w.Code)
		session := body["session"].(map[string]interface{})
		claims, err := middleware.ParseToken(session["access_token"].(string))
		require.NoError(t, err)
		assert.Equal(t, fx.Wembley.ID, claims.BranchID)
	})

	t.Run("missing token", func(t *testing.T) {
		w, _ := perform(t, r, apiRequest{method: http.MethodGet, path: "/api/auth/session"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		w, _ := perform(t, r, apiRequest{method: http.MethodGet, path: "/api/auth/session", token: "nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("logout", func(t *testing.T) {
		w, _ := perform(t, r, apiRequest{method: http.MethodPost, path: "/api/auth/logout", token: token})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
