package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"branch-orders-api/models"
	"branch-orders-api/realtime"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DialOrderFeed opens the branch's change feed. The subscription is live
// once the call returns.
func (c *APIClient) DialOrderFeed(ctx context.Context) (*websocket.Conn, error) {
	token := c.accessToken()
	if token == "" {
		return nil, ErrNotSignedIn
	}

	wsURL := c.baseURL + "/api/orders/feed"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial order feed: %w", &APIError{StatusCode: resp.StatusCode, Message: resp.Status})
		}
		return nil, fmt.Errorf("dial order feed: %w", err)
	}
	return conn, nil
}

// FeedSnapshot is the state of the order feed at one point in time.
type FeedSnapshot struct {
	State     ResultState
	Orders    []models.Order
	Err       error
	Connected bool
}

// Board groups orders by status, each column newest first.
type Board map[models.OrderStatus][]models.Order

// OrderFeed keeps the branch's orders current. It fetches them once, then
// patches the local collection from change events keyed by order id.
type OrderFeed struct {
	api            *APIClient
	log            logrus.FieldLogger
	reconnectDelay time.Duration

	mu        sync.Mutex
	orders    []models.Order
	state     ResultState
	err       error
	connected bool
	listeners map[int]func(FeedSnapshot)
	nextID    int
	ready     chan struct{}
	readyOnce sync.Once
}

func NewOrderFeed(api *APIClient) *OrderFeed {
	return &OrderFeed{
		api:            api,
		log:            api.log.WithField("component", "feed"),
		reconnectDelay: 2 * time.Second,
		state:          StateLoading,
		listeners:      make(map[int]func(FeedSnapshot)),
		ready:          make(chan struct{}),
	}
}

// SetReconnectDelay changes the wait between subscription attempts.
func (f *OrderFeed) SetReconnectDelay(d time.Duration) {
	f.mu.Lock()
	f.reconnectDelay = d
	f.mu.Unlock()
}

// Start fetches all orders and then follows the change feed until ctx is
// done. The initial fetch error is returned, but the subscription starts
// regardless. Every established subscription is followed by a full
// refetch, so changes made before the feed was live are not lost.
func (f *OrderFeed) Start(ctx context.Context) error {
	err := f.Refresh(ctx)
	go f.run(ctx)
	return err
}

// Ready is closed once the first subscription is established and the
// orders have been refetched behind it.
func (f *OrderFeed) Ready() <-chan struct{} {
	return f.ready
}

func (f *OrderFeed) run(ctx context.Context) {
	for {
		conn, err := f.api.DialOrderFeed(ctx)
		if err == nil {
			f.setConnected(true)
			// Events published before the dial completed were never seen.
			// Events arriving during the refetch queue on the socket and are
			// applied after it.
			if err := f.Refresh(ctx); err != nil {
				f.log.WithError(err).Warn("refetch after subscribing failed")
			}
			f.readyOnce.Do(func() { close(f.ready) })
			err = f.consume(ctx, conn)
			f.setConnected(false)
		}
		if ctx.Err() != nil {
			return
		}
		f.log.WithError(err).Warn("order feed disconnected, reconnecting")

		f.mu.Lock()
		delay := f.reconnectDelay
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (f *OrderFeed) consume(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		var ev realtime.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if err := f.Apply(ctx, ev); err != nil {
			f.log.WithError(err).WithField("order_id", ev.OrderID).Warn("failed to apply change event")
		}
	}
}

// Apply patches the local collection with one change event.
func (f *OrderFeed) Apply(ctx context.Context, ev realtime.ChangeEvent) error {
	switch ev.Type {
	case realtime.EventDelete:
		f.mutate(func(orders []models.Order) []models.Order {
			return removeOrder(orders, ev.OrderID)
		})
		return nil

	case realtime.EventUpdate:
		var rec models.Order
		if len(ev.Record) > 0 {
			if err := json.Unmarshal(ev.Record, &rec); err != nil {
				return fmt.Errorf("decode change record: %w", err)
			}
		}
		patched := false
		f.mutate(func(orders []models.Order) []models.Order {
			for i := range orders {
				if orders[i].ID == ev.OrderID && rec.ID != "" {
					orders[i].Status = rec.Status
					orders[i].Notes = rec.Notes
					orders[i].TableNumber = rec.TableNumber
					orders[i].UpdatedAt = rec.UpdatedAt
					patched = true
				}
			}
			return orders
		})
		if patched {
			return nil
		}
		return f.fetchOne(ctx, ev.OrderID)

	case realtime.EventInsert:
		if f.has(ev.OrderID) {
			return nil
		}
		return f.fetchOne(ctx, ev.OrderID)
	}
	return fmt.Errorf("unknown change event type %q", ev.Type)
}

func (f *OrderFeed) fetchOne(ctx context.Context, id string) error {
	order, err := f.api.GetOrder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		f.mutate(func(orders []models.Order) []models.Order { return removeOrder(orders, id) })
		return nil
	}
	if err != nil {
		return err
	}
	f.mutate(func(orders []models.Order) []models.Order {
		return upsertOrder(orders, *order)
	})
	return nil
}

// Refresh re-fetches every order of the branch. On failure the previous
// orders are kept and the error is recorded in the snapshot.
func (f *OrderFeed) Refresh(ctx context.Context) error {
	orders, err := f.api.ListOrders(ctx)
	if err != nil {
		f.log.WithError(err).Warn("order fetch failed")
		f.update(func() {
			f.state = StateError
			f.err = err
		})
		return err
	}
	sortNewestFirst(orders)
	f.update(func() {
		f.orders = orders
		f.state = stateFor(len(orders), nil)
		f.err = nil
	})
	return nil
}

// UpdateStatus writes a new status and applies the result locally.
func (f *OrderFeed) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	order, err := f.api.UpdateOrderStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	f.mutate(func(orders []models.Order) []models.Order {
		return upsertOrder(orders, *order)
	})
	return order, nil
}

// Delete removes an order on the backend and locally.
func (f *OrderFeed) Delete(ctx context.Context, id string) error {
	if err := f.api.DeleteOrder(ctx, id); err != nil {
		return err
	}
	f.mutate(func(orders []models.Order) []models.Order { return removeOrder(orders, id) })
	return nil
}

func (f *OrderFeed) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (f *OrderFeed) mutate(fn func([]models.Order) []models.Order) {
	f.update(func() {
		f.orders = fn(f.orders)
		if f.state != StateError {
			f.state = stateFor(len(f.orders), nil)
		}
	})
}

func (f *OrderFeed) setConnected(v bool) {
	f.update(func() { f.connected = v })
}

func (f *OrderFeed) update(fn func()) {
	f.mu.Lock()
	fn()
	snap := f.snapshotLocked()
	listeners := make([]func(FeedSnapshot), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (f *OrderFeed) snapshotLocked() FeedSnapshot {
	orders := make([]models.Order, len(f.orders))
	copy(orders, f.orders)
	return FeedSnapshot{State: f.state, Orders: orders, Err: f.err, Connected: f.connected}
}

// Snapshot returns the current feed state.
func (f *OrderFeed) Snapshot() FeedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Orders returns the orders newest first.
func (f *OrderFeed) Orders() []models.Order {
	return f.Snapshot().Orders
}

// Order returns one order by id.
func (f *OrderFeed) Order(id string) (models.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == id {
			return o, true
		}
	}
	return models.Order{}, false
}

// Board groups the orders by status.
func (f *OrderFeed) Board() Board {
	board := Board{}
	for _, s := range models.Statuses {
		board[s] = nil
	}
	for _, o := range f.Orders() {
		board[o.Status] = append(board[o.Status], o)
	}
	return board
}

// Subscribe calls fn on every change until the returned func is called.
func (f *OrderFeed) Subscribe(fn func(FeedSnapshot)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func removeOrder(orders []models.Order, id string) []models.Order {
	out := orders[:0]
	for _, o := range orders {
		if o.ID != id {
			out = append(out, o)
		}
	}
	return out
}

func upsertOrder(orders []models.Order, order models.Order) []models.Order {
	for i := range orders {
		if orders[i].ID == order.ID {
			orders[i] = order
			return orders
		}
	}
	orders = append(orders, order)
	sortNewestFirst(orders)
	return orders
}

func sortNewestFirst(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
