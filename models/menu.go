package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func init() {
	// Prices and totals travel as JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

type MenuCategory struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text"`
	Name         string    `json:"name" gorm:"not null"`
	DisplayOrder int       `json:"display_order" gorm:"not null;default:0;index"`
	CreatedAt    time.Time `json:"created_at"`
}

type MenuItem struct {
	ID          string          `json:"id" gorm:"primaryKey;type:text"`
	CategoryID  string          `json:"category_id" gorm:"index;not null"`
	Name        string          `json:"name" gorm:"not null"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null"`
	Available   bool            `json:"available" gorm:"not null"`
	ImageURL    *string         `json:"image_url"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (c *MenuCategory) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (m *MenuItem) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
