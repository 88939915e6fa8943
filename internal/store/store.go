// Package store provides item storage backends and the live view over them.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/vyrodovalexey/inventory-tracker/internal/model"
)

// Store errors.
var (
	ErrNotFound  = errors.New("item not found")
	ErrInvalidID = errors.New("invalid item ID")
	ErrNilItem   = errors.New("item cannot be nil")
)

// Store defines the interface for item storage operations.
type Store interface {
	// List returns all items in store order.
	List(ctx context.Context) ([]model.Item, error)

	// Get retrieves an item by its ID.
	Get(ctx context.Context, id int64) (*model.Item, error)

	// Create adds a new item to the store and returns it with its assigned ID.
	Create(ctx context.Context, item *model.Item) (*model.Item, error)

	// Update replaces the whole record stored under id.
	Update(ctx context.Context, id int64, item *model.Item) (*model.Item, error)

	// Delete removes an item from the store by its ID.
	Delete(ctx context.Context, id int64) error
}

// Feed exposes live views over the stored items. Channels close when ctx ends.
type Feed interface {
	// SubscribeAll emits the full item list now and after every change.
	SubscribeAll(ctx context.Context) <-chan []model.Item

	// SubscribeItem emits the item with the given id, or nil while it does not exist.
	SubscribeItem(ctx context.Context, id int64) <-chan *model.Item
}

// ItemStore is a Store with live subscriptions.
type ItemStore interface {
	Store
	Feed
}

// Notifier is implemented by backends that can observe changes made by
// other processes. Watch blocks, calling onChange for every notification,
// until ctx is done or the connection fails.
type Notifier interface {
	Watch(ctx context.Context, onChange func()) error
}

// Pinger is implemented by backends with a remote connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// sortItems puts items in store order: by name, then by id.
func sortItems(items []model.Item) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Name != items[b].Name {
			return items[a].Name < items[b].Name
		}
		return items[a].ID < items[b].ID
	})
}
