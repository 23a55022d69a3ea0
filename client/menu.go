package client

import (
	"context"
	"sync"

	"branch-orders-api/models"

	"golang.org/x/sync/errgroup"
)

// MenuSnapshot is the state of a menu query at one point in time.
type MenuSnapshot struct {
	State          ResultState
	Categories     []models.MenuCategory
	Items          []models.MenuItem
	ActiveCategory string
	Err            error
}

// MenuQuery loads categories and available items for composing orders.
type MenuQuery struct {
	api *APIClient

	mu   sync.RWMutex
	snap MenuSnapshot
}

func NewMenuQuery(api *APIClient) *MenuQuery {
	return &MenuQuery{api: api, snap: MenuSnapshot{State: StateLoading}}
}

// Load fetches categories and available items in parallel. On failure the
// previous data is kept and the error is recorded in the snapshot.
func (m *MenuQuery) Load(ctx context.Context) error {
	var (
		categories []models.MenuCategory
		items      []models.MenuItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		categories, err = m.api.Categories(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = m.api.MenuItems(gctx, true)
		return err
	})
	err := g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.api.log.WithError(err).Warn("menu load failed")
		m.snap.State = StateError
		m.snap.Err = err
		return err
	}

	m.snap = MenuSnapshot{
		State:      stateFor(len(items), nil),
		Categories: categories,
		Items:      items,
	}
	if len(categories) > 0 {
		m.snap.ActiveCategory = categories[0].ID
	}
	return nil
}

// Snapshot returns the current menu state.
func (m *MenuQuery) Snapshot() MenuSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Select makes categoryID the active category. Unknown ids are ignored.
func (m *MenuQuery) Select(categoryID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.snap.Categories {
		if c.ID == categoryID {
			m.snap.ActiveCategory = categoryID
			return true
		}
	}
	return false
}

// ItemsInCategory returns the available items of one category.
func (m *MenuQuery) ItemsInCategory(categoryID string) []models.MenuItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MenuItem
	for _, it := range m.snap.Items {
		if it.CategoryID == categoryID {
			out = append(out, it)
		}
	}
	return out
}

// ActiveItems returns the items of the active category.
func (m *MenuQuery) ActiveItems() []models.MenuItem {
	return m.ItemsInCategory(m.Snapshot().ActiveCategory)
}

// Item looks up an available item by id.
func (m *MenuQuery) Item(id string) (models.MenuItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, it := range m.snap.Items {
		if it.ID == id {
			return it, true
		}
	}
	return models.MenuItem{}, false
}
