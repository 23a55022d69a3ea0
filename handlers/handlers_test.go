package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"branch-orders-api/routes"
	"branch-orders-api/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiRequest struct {
	method  string
	path    string
	body    interface{}
	token   string
	headers map[string]string
}

func perform(t *testing.T, r http.Handler, req apiRequest) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if req.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(req.body))
	}
	httpReq := httptest.NewRequest(req.method, req.path, &buf)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httpReq)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func setup(t *testing.T) (*testutil.Fixtures, *gin.Engine) {
	t.Helper()
	fx := testutil.Seed(t)
	return fx, routes.NewRouter(nil)
}

func login(t *testing.T, r http.Handler, email, password string) string {
	t.Helper()
	w, body := perform(t, r, apiRequest{
		method: http.MethodPost,
		path:   "/api/auth/branch-login",
		body:   map[string]string{"email": email, "password": password},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	session := body["session"].(map[string]interface{})
	return session["access_token"].(string)
}
