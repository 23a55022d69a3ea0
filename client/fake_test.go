package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"branch-orders-api/models"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers canned responses per "METHOD path" and records every request.
type fakeBackend struct {
	mu       sync.Mutex
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
	requests []string
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	fb := &fakeBackend{routes: map[string]func(http.ResponseWriter, *http.Request){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		fb.mu.Lock()
		fb.requests = append(fb.requests, key)
		h := fb.routes[key]
		fb.mu.Unlock()
		if h == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route " + key})
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) on(method, path string, h func(w http.ResponseWriter, r *http.Request)) {
	fb.mu.Lock()
	fb.routes[method+" "+path] = h
	fb.mu.Unlock()
}

func (fb *fakeBackend) count() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.requests)
}

func (fb *fakeBackend) countOf(method, path string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := 0
	for _, r := range fb.requests {
		if r == method+" "+path {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respond(status int, body interface{}) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, status, body) }
}

func newTestClient(t *testing.T, url string, opts ...Option) (*APIClient, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	opts = append([]Option{WithLogger(log)}, opts...)
	api, err := New(Config{BaseURL: url, APIKey: "anon"}, opts...)
	require.NoError(t, err)
	return api, hook
}

type fixedBranch struct{ branch *models.Branch }

func (f fixedBranch) Branch() *models.Branch { return f.branch }

func signedInStore() *MemoryTokenStore {
	store := &MemoryTokenStore{}
	store.Save(&Session{AccessToken: "tok", User: &models.User{ID: "u1", Email: "cardiff@tasteofpeshawar.com"}})
	return store
}
