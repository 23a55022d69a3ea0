package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"branch-orders-api/client"
	"branch-orders-api/models"
	"branch-orders-api/routes"
	"branch-orders-api/testutil"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tablet struct {
	api     *client.APIClient
	session *client.SessionStore
	menu    *client.MenuQuery
	orders  *client.OrderFeed
	compose *client.OrderComposer
}

func startServer(t *testing.T) (*testutil.Fixtures, *httptest.Server) {
	t.Helper()
	fx := testutil.Seed(t)
	srv := httptest.NewServer(routes.NewRouter(nil))
	t.Cleanup(srv.Close)
	return fx, srv
}

func newTablet(t *testing.T, ctx context.Context, url, email, password string) *tablet {
	t.Helper()
	log, _ := test.NewNullLogger()
	api, err := client.New(client.Config{BaseURL: url}, client.WithLogger(log))
	require.NoError(t, err)

	session := client.NewSessionStore(api)
	session.Start(ctx)
	t.Cleanup(session.Stop)
	require.NoError(t, session.SignIn(ctx, email, password))
	require.NotNil(t, session.Branch())

	feed := client.NewOrderFeed(api)
	feed.SetReconnectDelay(50 * time.Millisecond)
	return &tablet{
		api:     api,
		session: session,
		menu:    client.NewMenuQuery(api),
		orders:  feed,
		compose: client.NewOrderComposer(api, session),
	}
}

func TestSignInUnknownBranch(t *testing.T) {
	fx, srv := startServer(t)
	api, err := client.New(client.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	store := client.NewSessionStore(api)
	store.Start(context.Background())
	defer store.Stop()

	err = store.SignIn(context.Background(), "leeds@tasteofpeshawar.com", "whatever-pass")
	assert.ErrorIs(t, err, client.ErrInvalidCredentials)
	assert.False(t, store.State().SignedIn())
	assert.Zero(t, testutil.Count(t, fx.DB, &models.User{}))
	assert.Zero(t, testutil.Count(t, fx.DB, &models.BranchSession{}))
}

func TestComposeAndSubmit(t *testing.T) {
	fx, srv := startServer(t)
	ctx := context.Background()
	tab := newTablet(t, ctx, srv.URL, testutil.CardiffEmail, testutil.CardiffPassword)
	assert.Equal(t, fx.Cardiff.ID, tab.session.Branch().ID)

	require.NoError(t, tab.menu.Load(ctx))
	snap := tab.menu.Snapshot()
	require.Equal(t, client.StateSuccess, snap.State)
	assert.Equal(t, fx.Starters.ID, snap.ActiveCategory)
	_, soldOutListed := tab.menu.Item(fx.SoldOut.ID)
	assert.False(t, soldOutListed)

	samosa, ok := tab.menu.Item(fx.Samosa.ID)
	require.True(t, ok)
	lassi, ok := tab.menu.Item(fx.Lassi.ID)
	require.True(t, ok)

	tab.compose.SetTable("12")
	tab.compose.Cart().Add(samosa)
	tab.compose.Cart().Add(samosa)
	tab.compose.Cart().Add(lassi)
	assert.True(t, tab.compose.Cart().Total().Equal(decimal.RequireFromString("13.50")))

	order, err := tab.compose.Submit(ctx)
	require.NoError(t, err)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("13.50")))
	assert.Equal(t, models.StatusNew, order.Status)
	require.Len(t, order.Items, 2)

	var stored []models.OrderItem
	require.NoError(t, fx.DB.Where("order_id = ?", order.ID).Find(&stored).Error)
	require.Len(t, stored, 2)
	for _, it := range stored {
		switch it.MenuItemID {
		case fx.Samosa.ID:
			assert.Equal(t, 2, it.Quantity)
			assert.True(t, it.UnitPrice.Equal(decimal.RequireFromString("5.00")))
		case fx.Lassi.ID:
			assert.Equal(t, 1, it.Quantity)
			assert.True(t, it.UnitPrice.Equal(decimal.RequireFromString("3.50")))
		default:
			t.Fatalf("unexpected item %s", it.MenuItemID)
		}
	}

	tab.compose.SetTable("")
	_, err = tab.compose.Submit(ctx)
	assert.Error(t, err)
	assert.EqualValues(t, 1, testutil.Count(t, fx.DB, &models.Order{}))
}

func TestFeedPropagatesAcrossTablets(t *testing.T) {
	fx, srv := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	counter := newTablet(t, ctx, srv.URL, testutil.CardiffEmail, testutil.CardiffPassword)
	kitchen := newTablet(t, ctx, srv.URL, testutil.CardiffEmail, testutil.CardiffPassword)
	wembley := newTablet(t, ctx, srv.URL, testutil.WembleyEmail, testutil.WembleyPassword)

	require.NoError(t, kitchen.orders.Start(ctx))
	require.NoError(t, wembley.orders.Start(ctx))
	for _, f := range []*client.OrderFeed{kitchen.orders, wembley.orders} {
		select {
		case <-f.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("feed never connected")
		}
	}
	assert.Equal(t, client.StateEmpty, kitchen.orders.Snapshot().State)

	require.NoError(t, counter.menu.Load(ctx))
	samosa, _ := counter.menu.Item(fx.Samosa.ID)
	counter.compose.SetTable("4")
	counter.compose.Cart().Add(samosa)
	order, err := counter.compose.Submit(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := kitchen.orders.Order(order.ID)
		return ok
	}, 3*time.Second, 20*time.Millisecond, "insert reaches the kitchen")

	_, err = counter.orders.UpdateStatus(ctx, order.ID, models.StatusPreparing)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		o, ok := kitchen.orders.Order(order.ID)
		return ok && o.Status == models.StatusPreparing
	}, 3*time.Second, 20*time.Millisecond, "status change reaches the kitchen without refresh")

	board := kitchen.orders.Board()
	assert.Empty(t, board[models.StatusNew])
	require.Len(t, board[models.StatusPreparing], 1)
	assert.Len(t, board[models.StatusPreparing][0].Items, 1)

	_, err = kitchen.orders.UpdateStatus(ctx, order.ID, models.StatusNew)
	assert.Error(t, err, "status never moves backwards")

	require.NoError(t, counter.orders.Delete(ctx, order.ID))
	assert.Eventually(t, func() bool {
		_, ok := kitchen.orders.Order(order.ID)
		return !ok
	}, 3*time.Second, 20*time.Millisecond, "delete reaches the kitchen")

	require.NoError(t, kitchen.orders.Refresh(ctx))
	for _, o := range kitchen.orders.Orders() {
		assert.NotEqual(t, order.ID, o.ID)
	}

	assert.Empty(t, wembley.orders.Orders(), "other branches see nothing")
}

func TestFeedRecoversAfterFailedStart(t *testing.T) {
	fx, srv := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, _ := test.NewNullLogger()
	api, err := client.New(client.Config{BaseURL: srv.URL}, client.WithLogger(log))
	require.NoError(t, err)
	feed := client.NewOrderFeed(api)
	feed.SetReconnectDelay(20 * time.Millisecond)

	err = feed.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, client.StateError, feed.Snapshot().State)

	_, _, err = api.SignInWithBranch(ctx, testutil.CardiffEmail, testutil.CardiffPassword)
	require.NoError(t, err)

	select {
	case <-feed.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("feed never connected")
	}
	assert.Eventually(t, func() bool {
		snap := feed.Snapshot()
		return snap.Connected && snap.State == client.StateEmpty && snap.Err == nil
	}, 3*time.Second, 20*time.Millisecond, "refetch after connecting clears the error")

	store := client.NewSessionStore(api)
	store.Start(ctx)
	defer store.Stop()
	composer := client.NewOrderComposer(api, store)
	composer.SetTable("9")
	samosa := *fx.Samosa
	composer.Cart().Add(samosa)
	order, err := composer.Submit(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := feed.Order(order.ID)
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestFeedCatchesOrdersPlacedBeforeSubscribing(t *testing.T) {
	fx := testutil.Seed(t)
	router := routes.NewRouter(nil)

	var armed atomic.Bool
	var placedID atomic.Value
	var counter *tablet
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
		// The list has been built; place an order before the kitchen subscribes.
		if r.Method == http.MethodGet && r.URL.Path == "/api/orders" && armed.CompareAndSwap(true, false) {
			order, err := counter.api.PlaceOrder(r.Context(), client.NewOrder{
				TableNumber: "7",
				Items:       []client.NewOrderLine{{MenuItemID: fx.Samosa.ID, Quantity: 1}},
			}, "")
			if assert.NoError(t, err) {
				placedID.Store(order.ID)
			}
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	counter = newTablet(t, ctx, srv.URL, testutil.CardiffEmail, testutil.CardiffPassword)
	kitchen := newTablet(t, ctx, srv.URL, testutil.CardiffEmail, testutil.CardiffPassword)

	armed.Store(true)
	require.NoError(t, kitchen.orders.Start(ctx))
	select {
	case <-kitchen.orders.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("feed never connected")
	}

	id, ok := placedID.Load().(string)
	require.True(t, ok, "order was placed between the first fetch and the subscription")
	_, found := kitchen.orders.Order(id)
	assert.True(t, found)
	assert.Equal(t, client.StateSuccess, kitchen.orders.Snapshot().State)
}
