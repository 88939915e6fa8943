// Package model defines data structures used throughout the application.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Validation errors for Item.
var (
	ErrEmptyName        = errors.New("name cannot be empty")
	ErrNameTooLong      = errors.New("name cannot exceed 255 characters")
	ErrNegativePrice    = errors.New("price cannot be negative")
	ErrNegativeQuantity = errors.New("quantity cannot be negative")
)

// MaxNameLength is the longest accepted item name in bytes.
const MaxNameLength = 255

// Item is a stock-keeping unit tracked by the inventory.
type Item struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate checks user-supplied fields of a create or edit payload.
// Stores accept whatever they are given; quantity adjustments are
// allowed to drive stock below zero.
func (i *Item) Validate() error {
	if i.Name == "" {
		return ErrEmptyName
	}

	if len(i.Name) > MaxNameLength {
		return ErrNameTooLong
	}

	if i.Price.IsNegative() {
		return ErrNegativePrice
	}

	if i.Quantity < 0 {
		return ErrNegativeQuantity
	}

	return nil
}

// WithQuantity returns a copy of the item with only the quantity replaced.
func (i Item) WithQuantity(quantity int) Item {
	i.Quantity = quantity
	return i
}

// OutOfStock reports whether no units are left.
func (i Item) OutOfStock() bool {
	return i.Quantity <= 0
}

// Equal reports whether two items hold the same values.
func (i Item) Equal(other Item) bool {
	return i.ID == other.ID &&
		i.Name == other.Name &&
		i.Price.Equal(other.Price) &&
		i.Quantity == other.Quantity &&
		i.CreatedAt.Equal(other.CreatedAt) &&
		i.UpdatedAt.Equal(other.UpdatedAt)
}

// ItemDetails is the display state of a single item.
type ItemDetails struct {
	Item       Item `json:"item"`
	OutOfStock bool `json:"out_of_stock"`
}

// NewItemDetails derives the detail view from an item snapshot.
func NewItemDetails(item Item) ItemDetails {
	return ItemDetails{
		Item:       item,
		OutOfStock: item.OutOfStock(),
	}
}
