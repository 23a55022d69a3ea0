package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus is the kitchen progress of an order
type OrderStatus string

const (
	StatusNew       OrderStatus = "New"
	StatusPreparing OrderStatus = "Preparing"
	StatusReady     OrderStatus = "Ready"
)

// Statuses lists every status in board order.
var Statuses = []OrderStatus{StatusNew, StatusPreparing, StatusReady}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

type Order struct {
	ID             string          `json:"id" gorm:"primaryKey;type:text"`
	BranchID       string          `json:"branch_id" gorm:"not null;index;uniqueIndex:idx_orders_branch_idempotency,priority:1"`
	TableNumber    string          `json:"table_number" gorm:"not null"`
	Status         OrderStatus     `json:"status" gorm:"not null;default:'New'"`
	TotalAmount    decimal.Decimal `json:"total_amount" gorm:"type:decimal(10,2);not null"`
	Notes          string          `json:"notes"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" gorm:"uniqueIndex:idx_orders_branch_idempotency,priority:2"`
	Items          []OrderItem     `json:"order_items,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID         string          `json:"id" gorm:"primaryKey;type:text"`
	OrderID    string          `json:"order_id" gorm:"not null;index"`
	MenuItemID string          `json:"menu_item_id" gorm:"not null"`
	MenuItem   *MenuItem       `json:"menu_items,omitempty" gorm:"foreignKey:MenuItemID"`
	Quantity   int             `json:"quantity" gorm:"not null"`
	UnitPrice  decimal.Decimal `json:"unit_price" gorm:"type:decimal(10,2);not null"` // snapshot price at time of order
	Notes      string          `json:"notes"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OrderStatusHistory records every status change of an order
type OrderStatusHistory struct {
	ID         string      `json:"id" gorm:"primaryKey;type:text"`
	OrderID    string      `json:"order_id" gorm:"not null;index"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status" gorm:"not null"`
	ChangedBy  string      `json:"changed_by"` // user ID who triggered the transition
	CreatedAt  time.Time   `json:"created_at"`
}

// LineTotal is unit price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CalculateTotal sums the line totals of the order items.
func (o *Order) CalculateTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// ItemCount is the number of units across all lines.
func (o *Order) ItemCount() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

func (h *OrderStatusHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return nil
}
