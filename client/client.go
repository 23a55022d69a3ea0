package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"branch-orders-api/logger"
	"branch-orders-api/models"

	"github.com/sirupsen/logrus"
)

// AuthEvent names a change of authentication state.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
)

// AuthListener receives auth events. It runs on the goroutine that caused
// the event.
type AuthListener func(ctx context.Context, event AuthEvent, session *Session)

// APIClient talks to the branch API over HTTP.
type APIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	tokens  TokenStore
	log     logrus.FieldLogger

	mu        sync.Mutex
	listeners map[int]AuthListener
	nextID    int
}

type Option func(*APIClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *APIClient) { c.http = hc }
}

func WithTokenStore(ts TokenStore) Option {
	return func(c *APIClient) { c.tokens = ts }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *APIClient) { c.log = l }
}

func New(cfg Config, opts ...Option) (*APIClient, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	c := &APIClient{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		http:      &http.Client{Timeout: 15 * time.Second},
		tokens:    &MemoryTokenStore{},
		log:       logger.For("client"),
		listeners: make(map[int]AuthListener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OnAuthStateChange registers l for auth events until the returned func is called.
func (c *APIClient) OnAuthStateChange(l AuthListener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *APIClient) emit(ctx context.Context, event AuthEvent, session *Session) {
	c.mu.Lock()
	listeners := make([]AuthListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()
	for _, l := range listeners {
		l(ctx, event, session)
	}
}

func (c *APIClient) accessToken() string {
	s, err := c.tokens.Load()
	if err != nil || s == nil {
		return ""
	}
	return s.AccessToken
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// GetSession returns the stored session if the backend still accepts it.
// A rejected token is discarded and reported as no session.
func (c *APIClient) GetSession(ctx context.Context) (*Session, error) {
	stored, err := c.tokens.Load()
	if err != nil {
		return nil, err
	}
	if stored == nil || stored.AccessToken == "" {
		return nil, nil
	}

	var out struct {
		Session *Session `json:"session"`
	}
	err = c.do(ctx, http.MethodGet, "/api/auth/session", nil, &out, nil)
	if IsStatus(err, http.StatusUnauthorized) {
		c.log.Info("stored session rejected, discarding")
		return nil, c.tokens.Clear()
	}
	if err != nil {
		return nil, err
	}
	return out.Session, nil
}

// SignInWithBranch exchanges branch credentials for a session.
func (c *APIClient) SignInWithBranch(ctx context.Context, email, password string) (*Session, *models.Branch, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil, &ValidationError{Field: "email", Message: "email is required"}
	}
	if password == "" {
		return nil, nil, &ValidationError{Field: "password", Message: "password is required"}
	}

	var out struct {
		Session *Session       `json:"session"`
		Branch  *models.Branch `json:"branch"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/branch-login",
		map[string]string{"email": email, "password": password}, &out, nil)
	if IsStatus(err, http.StatusUnauthorized) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sign in: %w", err)
	}
	if err := c.tokens.Save(out.Session); err != nil {
		return nil, nil, fmt.Errorf("failed to store session: %w", err)
	}

	c.log.WithField("branch_id", out.Branch.ID).Info("signed in")
	c.emit(ctx, EventSignedIn, out.Session)
	return out.Session, out.Branch, nil
}

// RefreshSession swaps the current token for a fresh one.
func (c *APIClient) RefreshSession(ctx context.Context) (*Session, error) {
	if c.accessToken() == "" {
		return nil, ErrNotSignedIn
	}
	var out struct {
		Session *Session `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", nil, &out, nil); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if err := c.tokens.Save(out.Session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	c.emit(ctx, EventTokenRefreshed, out.Session)
	return out.Session, nil
}

// SignOut discards the local session. The backend call is best effort.
func (c *APIClient) SignOut(ctx context.Context) error {
	if c.accessToken() != "" {
		if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil); err != nil {
			c.log.WithError(err).Warn("logout request failed")
		}
	}
	if err := c.tokens.Clear(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	c.emit(ctx, EventSignedOut, nil)
	return nil
}

// ResolveBranch returns the branch mapped to the signed-in user.
func (c *APIClient) ResolveBranch(ctx context.Context) (*models.Branch, error) {
	var out struct {
		Branch *models.Branch `json:"branch"`
	}
	err := c.do(ctx, http.MethodGet, "/api/auth/branch", nil, &out, nil)
	switch {
	case IsStatus(err, http.StatusNotFound):
		return nil, ErrBranchUnresolved
	case IsStatus(err, http.StatusUnauthorized):
		return nil, ErrNotSignedIn
	case err != nil:
		return nil, fmt.Errorf("resolve branch: %w", err)
	}
	return out.Branch, nil
}

func (c *APIClient) Categories(ctx context.Context) ([]models.MenuCategory, error) {
	var out struct {
		Categories []models.MenuCategory `json:"categories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/menu/categories", nil, &out, nil); err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	return out.Categories, nil
}

func (c *APIClient) MenuItems(ctx context.Context, availableOnly bool) ([]models.MenuItem, error) {
	path := "/api/menu/items"
	if availableOnly {
		path += "?available=true"
	}
	var out struct {
		Items []models.MenuItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("load menu items: %w", err)
	}
	return out.Items, nil
}

// NewOrder is the payload of an order placement.
type NewOrder struct {
	TableNumber string         `json:"table_number"`
	Notes       string         `json:"notes"`
	Items       []NewOrderLine `json:"items"`
}

type NewOrderLine struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
	Notes      string `json:"notes,omitempty"`
}

// PlaceOrder writes an order and its lines in one request. Requests that
// share an idempotency key create at most one order.
func (c *APIClient) PlaceOrder(ctx context.Context, order NewOrder, idempotencyKey string) (*models.Order, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	var out struct {
		Order *models.Order `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/orders", order, &out, headers); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	return out.Order, nil
}

func (c *APIClient) ListOrders(ctx context.Context) ([]models.Order, error) {
	var out struct {
		Orders []models.Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/orders", nil, &out, nil); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out.Orders, nil
}

func (c *APIClient) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var out struct {
		Order *models.Order `json:"order"`
	}
	err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(id), nil, &out, nil)
	if IsStatus(err, http.StatusNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return out.Order, nil
}

func (c *APIClient) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	var out struct {
		Order *models.Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPatch, "/api/orders/"+url.PathEscape(id)+"/status",
		map[string]models.OrderStatus{"status": status}, &out, nil)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return out.Order, nil
}

func (c *APIClient) DeleteOrder(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/orders/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}
