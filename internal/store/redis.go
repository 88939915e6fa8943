package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
	"github.com/shopspring/decimal"

	"github.com/vyrodovalexey/inventory-tracker/internal/model"
)

// DefaultRedisKeyPrefix is used when RedisConfig.KeyPrefix is empty.
const DefaultRedisKeyPrefix = "inventory"

// Compile-time checks.
var (
	_ Store    = (*RedisStore)(nil)
	_ Notifier = (*RedisStore)(nil)
	_ Pinger   = (*RedisStore)(nil)
)

// Hash field names.
const (
	fieldName      = "name"
	fieldPrice     = "price"
	fieldQuantity  = "quantity"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// updateScript replaces an existing item hash and announces the change in
// one step, so an item deleted concurrently is never recreated. It returns
// nil when the item does not exist.
var updateScript = rueidis.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('HSET', KEYS[1], 'name', ARGV[1], 'price', ARGV[2], 'quantity', ARGV[3], 'updated_at', ARGV[4])
redis.call('PUBLISH', ARGV[5], ARGV[6])
return redis.call('HGETALL', KEYS[1])
`)

// RedisConfig holds connection parameters for a Redis store.
type RedisConfig struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore implements Store via rueidis. Each item is a hash; a set
// indexes the ids and a counter hands out new ids. Writes PUBLISH on a
// change channel that Watch subscribes to.
type RedisStore struct {
	client rueidis.Client
	prefix string
}

// NewRedisStore creates a Redis store via rueidis.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}

	return newRedisStore(client, cfg.KeyPrefix), nil
}

func newRedisStore(client rueidis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *RedisStore) Close() {
	s.client.Close()
}

func (s *RedisStore) itemKey(id int64) string {
	return s.prefix + ":item:" + strconv.FormatInt(id, 10)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":items"
}

func (s *RedisStore) seqKey() string {
	return s.prefix + ":items:seq"
}

// Channel returns the PUBLISH/SUBSCRIBE channel used for change events.
func (s *RedisStore) Channel() string {
	return s.prefix + ":items:changed"
}

// List returns all items in store order.
func (s *RedisStore) List(ctx context.Context) ([]model.Item, error) {
	b := s.client.B()

	ids, err := s.client.Do(ctx, b.Smembers().Key(s.indexKey()).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	items := make([]model.Item, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	cmds := make([]rueidis.Completed, 0, len(ids))
	parsedIDs := make([]int64, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("list items: bad id %q in index: %w", raw, err)
		}
		parsedIDs = append(parsedIDs, id)
		cmds = append(cmds, b.Hgetall().Key(s.itemKey(id)).Build())
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		fields, err := res.AsStrMap()
		if err != nil {
			return nil, fmt.Errorf("list items: item %d: %w", parsedIDs[i], err)
		}
		// Removed between SMEMBERS and HGETALL.
		if len(fields) == 0 {
			continue
		}
		item, err := itemFromHash(parsedIDs[i], fields)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		items = append(items, item)
	}

	sortItems(items)

	return items, nil
}

// Get retrieves an item by its ID.
func (s *RedisStore) Get(ctx context.Context, id int64) (*model.Item, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}

	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.itemKey(id)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	item, err := itemFromHash(id, fields)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	return &item, nil
}

// Create stores a new item under the next id from the sequence counter.
func (s *RedisStore) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	if item == nil {
		return nil, fmt.Errorf("create item: %w", ErrNilItem)
	}

	b := s.client.B()

	id, err := s.client.Do(ctx, b.Incr().Key(s.seqKey()).Build()).AsInt64()
	if err != nil {
		return nil, fmt.Errorf("create item: next id: %w", err)
	}

	now := time.Now().UTC()
	created := model.Item{
		ID:        id,
		Name:      item.Name,
		Price:     item.Price,
		Quantity:  item.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}

	hset := b.Hset().Key(s.itemKey(id)).FieldValue().
		FieldValue(fieldName, created.Name).
		FieldValue(fieldPrice, created.Price.String()).
		FieldValue(fieldQuantity, strconv.Itoa(created.Quantity)).
		FieldValue(fieldCreatedAt, formatTime(created.CreatedAt)).
		FieldValue(fieldUpdatedAt, formatTime(created.UpdatedAt))

	results := s.client.DoMulti(ctx,
		hset.Build(),
		b.Sadd().Key(s.indexKey()).Member(strconv.FormatInt(id, 10)).Build(),
		s.publish(id),
	)
	for _, res := range results {
		if err := res.Error(); err != nil {
			return nil, fmt.Errorf("create item %d: %w", id, err)
		}
	}

	return &created, nil
}

// Update replaces the record stored under id.
func (s *RedisStore) Update(ctx context.Context, id int64, item *model.Item) (*model.Item, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}

	if item == nil {
		return nil, fmt.Errorf("update item: %w", ErrNilItem)
	}

	res := updateScript.Exec(ctx, s.client,
		[]string{s.itemKey(id)},
		[]string{
			item.Name,
			item.Price.String(),
			strconv.Itoa(item.Quantity),
			formatTime(time.Now().UTC()),
			s.Channel(),
			strconv.FormatInt(id, 10),
		},
	)
	if err := res.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update item %d: %w", id, err)
	}

	fields, err := res.AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("update item %d: %w", id, err)
	}
	updated, err := itemFromHash(id, fields)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	return &updated, nil
}

// Delete removes an item from the store by its ID.
func (s *RedisStore) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}

	b := s.client.B()
	results := s.client.DoMulti(ctx,
		b.Del().Key(s.itemKey(id)).Build(),
		b.Srem().Key(s.indexKey()).Member(strconv.FormatInt(id, 10)).Build(),
		s.publish(id),
	)

	removed, err := results[0].AsInt64()
	if err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	for _, res := range results[1:] {
		if err := res.Error(); err != nil {
			return fmt.Errorf("delete item %d: %w", id, err)
		}
	}
	if removed == 0 {
		return ErrNotFound
	}

	return nil
}

// Watch subscribes to the change channel and calls onChange for every message.
func (s *RedisStore) Watch(ctx context.Context, onChange func()) error {
	cmd := s.client.B().Subscribe().Channel(s.Channel()).Build()
	err := s.client.Receive(ctx, cmd, func(_ rueidis.PubSubMessage) {
		onChange()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.Channel(), err)
	}
	return nil
}

func (s *RedisStore) publish(id int64) rueidis.Completed {
	return s.client.B().Publish().Channel(s.Channel()).Message(strconv.FormatInt(id, 10)).Build()
}

// itemFromHash decodes an item hash.
func itemFromHash(id int64, fields map[string]string) (model.Item, error) {
	price, err := decimal.NewFromString(fields[fieldPrice])
	if err != nil {
		return model.Item{}, fmt.Errorf("item %d: parse price: %w", id, err)
	}

	quantity, err := strconv.Atoi(fields[fieldQuantity])
	if err != nil {
		return model.Item{}, fmt.Errorf("item %d: parse quantity: %w", id, err)
	}

	createdAt, err := parseTime(fields[fieldCreatedAt])
	if err != nil {
		return model.Item{}, fmt.Errorf("item %d: parse created_at: %w", id, err)
	}

	updatedAt, err := parseTime(fields[fieldUpdatedAt])
	if err != nil {
		return model.Item{}, fmt.Errorf("item %d: parse updated_at: %w", id, err)
	}

	return model.Item{
		ID:        id,
		Name:      fields[fieldName],
		Price:     price,
		Quantity:  quantity,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
