package client

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"branch-orders-api/models"

	"github.com/google/uuid"
)

// BranchSource supplies the branch orders are placed for.
type BranchSource interface {
	Branch() *models.Branch
}

// OrderComposer holds the order being composed: the cart, the table number
// and order notes. One idempotency key covers each submission intent, so a
// retried Submit never creates a second order. Editing the order after a
// failed Submit starts a new intent with a new key.
type OrderComposer struct {
	api      *APIClient
	branches BranchSource
	cart     *Cart

	mu       sync.Mutex
	table    string
	notes    string
	key      string
	sent     *NewOrder // last payload sent with key
	inFlight atomic.Bool
}

func NewOrderComposer(api *APIClient, branches BranchSource) *OrderComposer {
	return &OrderComposer{
		api:      api,
		branches: branches,
		cart:     NewCart(),
		key:      uuid.NewString(),
	}
}

func (o *OrderComposer) Cart() *Cart {
	return o.cart
}

func (o *OrderComposer) SetTable(table string) {
	o.mu.Lock()
	o.table = table
	o.mu.Unlock()
}

func (o *OrderComposer) Table() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.table
}

func (o *OrderComposer) SetNotes(notes string) {
	o.mu.Lock()
	o.notes = notes
	o.mu.Unlock()
}

func (o *OrderComposer) Notes() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.notes
}

// IdempotencyKey returns the key the next Submit will send.
func (o *OrderComposer) IdempotencyKey() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key
}

// InFlight reports whether a submission is running.
func (o *OrderComposer) InFlight() bool {
	return o.inFlight.Load()
}

// Validate checks the preconditions of Submit without contacting the backend.
func (o *OrderComposer) Validate() error {
	if o.branches == nil || o.branches.Branch() == nil {
		return ErrBranchUnresolved
	}
	if strings.TrimSpace(o.Table()) == "" {
		return &ValidationError{Field: "table_number", Message: "table number is required"}
	}
	if o.cart.Len() == 0 {
		return &ValidationError{Field: "items", Message: "add at least one item"}
	}
	return nil
}

// Submit places the composed order. On success the cart, table and notes
// are cleared and a new idempotency key is issued; on failure everything
// is kept so the same intent can be retried. A retry with an unchanged
// order reuses the key and returns the order if the failed attempt had in
// fact been stored; a changed order is sent under a fresh key.
func (o *OrderComposer) Submit(ctx context.Context) (*models.Order, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmitInFlight
	}
	defer o.inFlight.Store(false)

	var lines []NewOrderLine
	for _, it := range o.cart.Items() {
		lines = append(lines, NewOrderLine{
			MenuItemID: it.Item.ID,
			Quantity:   it.Quantity,
			Notes:      strings.TrimSpace(it.Notes),
		})
	}

	o.mu.Lock()
	req := NewOrder{
		TableNumber: strings.TrimSpace(o.table),
		Notes:       strings.TrimSpace(o.notes),
		Items:       lines,
	}
	if o.sent != nil && !sameOrder(*o.sent, req) {
		o.key = uuid.NewString()
	}
	key := o.key
	o.sent = &req
	o.mu.Unlock()

	order, err := o.api.PlaceOrder(ctx, req, key)
	if err != nil {
		o.api.log.WithError(err).WithField("table_number", req.TableNumber).Warn("order submission failed")
		return nil, err
	}

	o.cart.Clear()
	o.mu.Lock()
	o.table = ""
	o.notes = ""
	o.key = uuid.NewString()
	o.sent = nil
	o.mu.Unlock()

	o.api.log.WithField("order_id", order.ID).Info("order submitted")
	return order, nil
}

func sameOrder(a, b NewOrder) bool {
	return a.TableNumber == b.TableNumber && a.Notes == b.Notes && slices.Equal(a.Items, b.Items)
}
