package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vyrodovalexey/inventory-tracker/internal/model"
)

// PostgresChannel is the LISTEN/NOTIFY channel written on every change.
const PostgresChannel = "items_changed"

// Compile-time checks.
var (
	_ Store    = (*PostgresStore)(nil)
	_ Notifier = (*PostgresStore)(nil)
	_ Pinger   = (*PostgresStore)(nil)
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT        NOT NULL,
	price      NUMERIC     NOT NULL DEFAULT 0,
	quantity   INTEGER     NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const itemColumns = `id, name, price::text, quantity, created_at, updated_at`

// PostgresStore implements Store on a PostgreSQL table and publishes
// changes through NOTIFY so that other replicas see them.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the items table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// List returns all items in store order.
func (s *PostgresStore) List(ctx context.Context) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY name COLLATE "C", id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Item, error) {
		return scanItem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	return items, nil
}

// Get retrieves an item by its ID.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*model.Item, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}

	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}

	return &item, nil
}

// Create inserts a new item; the database assigns the ID.
func (s *PostgresStore) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	if item == nil {
		return nil, fmt.Errorf("create item: %w", ErrNilItem)
	}

	var created model.Item
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO items (name, price, quantity)
			 VALUES ($1, $2::text::numeric, $3)
			 RETURNING `+itemColumns,
			item.Name, item.Price.String(), item.Quantity)

		var err error
		if created, err = scanItem(row); err != nil {
			return err
		}
		return notifyTx(ctx, tx, created.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	return &created, nil
}

// Update replaces the record stored under id.
func (s *PostgresStore) Update(ctx context.Context, id int64, item *model.Item) (*model.Item, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}

	if item == nil {
		return nil, fmt.Errorf("update item: %w", ErrNilItem)
	}

	var updated model.Item
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE items
			 SET name = $2, price = $3::text::numeric, quantity = $4, updated_at = now()
			 WHERE id = $1
			 RETURNING `+itemColumns,
			id, item.Name, item.Price.String(), item.Quantity)

		var err error
		if updated, err = scanItem(row); err != nil {
			return err
		}
		return notifyTx(ctx, tx, id)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update item: %w", err)
	}

	return &updated, nil
}

// Delete removes an item from the store by its ID.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return notifyTx(ctx, tx, id)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete item: %w", err)
	}

	return nil
}

// Watch listens on PostgresChannel with a connection taken out of the pool
// and calls onChange for every notification.
func (s *PostgresStore) Watch(ctx context.Context, onChange func()) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}

	// The LISTEN state must not leak back into the pool.
	conn := pooled.Hijack()
	defer func() {
		_ = conn.Close(context.Background())
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{PostgresChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		onChange()
	}
}

// notifyTx queues a change notification that is delivered on commit.
func notifyTx(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, PostgresChannel, strconv.FormatInt(id, 10))
	return err
}

// scanItem reads one row selected with itemColumns.
func scanItem(row pgx.Row) (model.Item, error) {
	var (
		item  model.Item
		price string
	)

	if err := row.Scan(&item.ID, &item.Name, &price, &item.Quantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return model.Item{}, err
	}

	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return model.Item{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	item.Price = parsed
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()

	return item, nil
}
