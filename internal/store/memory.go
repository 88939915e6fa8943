package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vyrodovalexey/inventory-tracker/internal/model"
)

// Compile-time check: MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store interface with in-memory storage.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[int64]model.Item
	nextID int64
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[int64]model.Item),
		nextID: 1,
	}
}

// List returns all items in store order.
func (s *MemoryStore) List(ctx context.Context) ([]model.Item, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("list items: %w", ctx.Err())
	default:
	}

	s.mu.RLock()
	items := make([]model.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	s.mu.RUnlock()

	sortItems(items)

	return items, nil
}

// Get retrieves an item by its ID.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*model.Item, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("get item: %w", ctx.Err())
	default:
	}

	if id <= 0 {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, ErrNotFound
	}

	return &item, nil
}

// Create adds a new item to the store and assigns the next sequential ID.
func (s *MemoryStore) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("create item: %w", ctx.Err())
	default:
	}

	if item == nil {
		return nil, fmt.Errorf("create item: %w", ErrNilItem)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	newItem := model.Item{
		ID:        s.nextID,
		Name:      item.Name,
		Price:     item.Price,
		Quantity:  item.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++

	s.items[newItem.ID] = newItem

	return &newItem, nil
}

// Update replaces the record stored under id. Writing the same payload
// twice leaves the store in the same state.
func (s *MemoryStore) Update(ctx context.Context, id int64, item *model.Item) (*model.Item, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("update item: %w", ctx.Err())
	default:
	}

	if id <= 0 {
		return nil, ErrInvalidID
	}

	if item == nil {
		return nil, fmt.Errorf("update item: %w", ErrNilItem)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[id]
	if !exists {
		return nil, ErrNotFound
	}

	updatedItem := model.Item{
		ID:        id,
		Name:      item.Name,
		Price:     item.Price,
		Quantity:  item.Quantity,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}

	s.items[id] = updatedItem

	return &updatedItem, nil
}

// Delete removes an item from the store by its ID.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("delete item: %w", ctx.Err())
	default:
	}

	if id <= 0 {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return ErrNotFound
	}

	delete(s.items, id)

	return nil
}
