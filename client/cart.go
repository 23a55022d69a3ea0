package client

import (
	"sync"

	"branch-orders-api/models"

	"github.com/shopspring/decimal"
)

// CartItem is one line of the cart.
type CartItem struct {
	Item     models.MenuItem
	Quantity int
	Notes    string
}

// LineTotal is price times quantity.
func (c CartItem) LineTotal() decimal.Decimal {
	return c.Item.Price.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// Cart collects menu items for one order. No entry ever has a quantity
// below one; the total is recomputed from the entries on every read.
type Cart struct {
	mu    sync.Mutex
	items []CartItem
}

func NewCart() *Cart {
	return &Cart{}
}

func (c *Cart) indexOf(id string) int {
	for i, it := range c.items {
		if it.Item.ID == id {
			return i
		}
	}
	return -1
}

// Add puts one more of item into the cart.
func (c *Cart) Add(item models.MenuItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(item.ID); i >= 0 {
		c.items[i].Quantity++
		return
	}
	c.items = append(c.items, CartItem{Item: item, Quantity: 1})
}

// SetQuantity sets the quantity of an entry; zero or less removes it.
// Unknown ids are ignored.
func (c *Cart) SetQuantity(id string, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return
	}
	if quantity <= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
		return
	}
	c.items[i].Quantity = quantity
}

// SetNotes replaces the notes of an entry. Unknown ids are ignored.
func (c *Cart) SetNotes(id, notes string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(id); i >= 0 {
		c.items[i].Notes = notes
	}
}

// Items returns a copy of the entries in insertion order.
func (c *Cart) Items() []CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CartItem, len(c.items))
	copy(out, c.items)
	return out
}

// Quantity returns the quantity of an entry, zero when absent.
func (c *Cart) Quantity(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(id); i >= 0 {
		return c.items[i].Quantity
	}
	return 0
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Total is the sum of price times quantity over all entries.
func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.LineTotal())
	}
	return total
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}
