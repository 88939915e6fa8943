package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/inventory-tracker/internal/inventory"
	"github.com/vyrodovalexey/inventory-tracker/internal/model"
	"github.com/vyrodovalexey/inventory-tracker/internal/store"
)

// failingStore implements store.Store and fails every call with err.
type failingStore struct {
	err error
}

func (f *failingStore) List(context.Context) ([]model.Item, error) { return nil, f.err }

func (f *failingStore) Get(context.Context, int64) (*model.Item, error) { return nil, f.err }

func (f *failingStore) Create(context.Context, *model.Item) (*model.Item, error) {
	return nil, f.err
}

func (f *failingStore) Update(context.Context, int64, *model.Item) (*model.Item, error) {
	return nil, f.err
}

func (f *failingStore) Delete(context.Context, int64) error { return f.err }

type testEnv struct {
	live     *store.Live
	registry *inventory.Registry
	router   *mux.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	live := store.NewLive(store.NewMemoryStore(), zap.NewNop())
	registry := inventory.NewRegistry(live, inventory.Options{Logger: zap.NewNop()})
	t.Cleanup(registry.Close)

	router := mux.NewRouter()
	NewRESTHandler(live, registry, zap.NewNop()).RegisterRoutes(router)

	return &testEnv{live: live, registry: registry, router: router}
}

func (e *testEnv) seed(t *testing.T, name string, price string, quantity int) model.Item {
	t.Helper()
	item, err := e.live.Create(context.Background(), &model.Item{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Quantity: quantity,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return *item
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) quantity(t *testing.T, id int64) int {
	t.Helper()
	item, err := e.live.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get item %d: %v", id, err)
	}
	return item.Quantity
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestNewRESTHandler(t *testing.T) {
	// Arrange
	live := store.NewLive(store.NewMemoryStore(), nil)
	registry := inventory.NewRegistry(live, inventory.Options{})
	defer registry.Close()

	// Act
	handler := NewRESTHandler(live, registry, zap.NewNop())

	// Assert
	if handler == nil {
		t.Fatal("NewRESTHandler() returned nil")
	}
	if handler.store == nil || handler.registry == nil || handler.logger == nil {
		t.Error("handler dependencies should be set")
	}
}

func TestRESTHandler_HealthCheck(t *testing.T) {
	// Arrange
	env := newTestEnv(t)

	// Act
	rr := env.do(http.MethodGet, "/health", "")

	// Assert
	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decode[model.APIResponse[HealthResponse]](t, rr)
	if !resp.Success || resp.Data.Status != "healthy" || resp.Data.Version != Version {
		t.Errorf("unexpected health response: %+v", resp)
	}
}

func TestRESTHandler_ListItems(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Game", "100.0", 20)
	env.seed(t, "Gadget", "12.50", 7)
	puzzle := env.seed(t, "Puzzle", "9.99", 0)

	tests := []struct {
		name  string
		path  string
		names []string
	}{
		{name: "no query lists everything in store order", path: "/api/v1/items", names: []string{"Gadget", "Game", "Puzzle"}},
		{name: "substring ignores case", path: "/api/v1/items?q=GA", names: []string{"Gadget", "Game"}},
		{name: "id lookup", path: "/api/v1/items?q=3", names: []string{puzzle.Name}},
		{name: "no match", path: "/api/v1/items?q=zzz", names: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			rr := env.do(http.MethodGet, tt.path, "")

			// Assert
			if rr.Code != http.StatusOK {
				t.Fatalf("Status = %d, want %d", rr.Code, http.StatusOK)
			}
			resp := decode[model.APIResponse[[]model.Item]](t, rr)
			got := make([]string, 0, len(resp.Data))
			for _, item := range resp.Data {
				got = append(got, item.Name)
			}
			if len(got) != len(tt.names) {
				t.Fatalf("names = %v, want %v", got, tt.names)
			}
			for i := range got {
				if got[i] != tt.names[i] {
					t.Errorf("names = %v, want %v", got, tt.names)
					break
				}
			}
		})
	}
}

func TestRESTHandler_StoreErrors(t *testing.T) {
	// Arrange
	registry := inventory.NewRegistry(store.NewLive(store.NewMemoryStore(), nil), inventory.Options{})
	defer registry.Close()
	router := mux.NewRouter()
	NewRESTHandler(&failingStore{err: errors.New("db down")}, registry, zap.NewNop()).RegisterRoutes(router)

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{method: http.MethodGet, path: "/api/v1/items"},
		{method: http.MethodGet, path: "/api/v1/items/1"},
		{method: http.MethodPost, path: "/api/v1/items", body: `{"name":"Game","price":"1","quantity":1}`},
		{method: http.MethodPut, path: "/api/v1/items/1", body: `{"name":"Game","price":"1","quantity":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusInternalServerError {
				t.Errorf("Status = %d, want %d", rr.Code, http.StatusInternalServerError)
			}
		})
	}
}

func TestRESTHandler_GetItem(t *testing.T) {
	env := newTestEnv(t)
	game := env.seed(t, "Game", "100.0", 20)
	empty := env.seed(t, "Empty", "1", 0)

	t.Run("in stock", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/v1/items/1", "")

		if rr.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", rr.Code, http.StatusOK)
		}
		resp := decode[model.APIResponse[model.ItemDetails]](t, rr)
		if resp.Data.Item.ID != game.ID || resp.Data.OutOfStock {
			t.Errorf("unexpected details: %+v", resp.Data)
		}
	})

	t.Run("out of stock", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/v1/items/2", "")

		resp := decode[model.APIResponse[model.ItemDetails]](t, rr)
		if resp.Data.Item.ID != empty.ID || !resp.Data.OutOfStock {
			t.Errorf("unexpected details: %+v", resp.Data)
		}
	})

	for _, tc := range []struct {
		path string
		want int
	}{
		{path: "/api/v1/items/99", want: http.StatusNotFound},
		{path: "/api/v1/items/abc", want: http.StatusBadRequest},
		{path: "/api/v1/items/0", want: http.StatusBadRequest},
		{path: "/api/v1/items/-4", want: http.StatusBadRequest},
	} {
		t.Run(tc.path, func(t *testing.T) {
			rr := env.do(http.MethodGet, tc.path, "")
			if rr.Code != tc.want {
				t.Errorf("Status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestRESTHandler_CreateItem(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "valid", body: `{"name":"Game","price":"100.0","quantity":20}`, want: http.StatusCreated},
		{name: "numeric price", body: `{"name":"Game","price":100.5,"quantity":1}`, want: http.StatusCreated},
		{name: "malformed json", body: `{"name":`, want: http.StatusBadRequest},
		{name: "empty name", body: `{"name":"","price":"1","quantity":1}`, want: http.StatusBadRequest},
		{name: "negative price", body: `{"name":"Game","price":"-1","quantity":1}`, want: http.StatusBadRequest},
		{name: "negative quantity", body: `{"name":"Game","price":"1","quantity":-1}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			env := newTestEnv(t)

			// Act
			rr := env.do(http.MethodPost, "/api/v1/items", tt.body)

			// Assert
			if rr.Code != tt.want {
				t.Fatalf("Status = %d, want %d, body %s", rr.Code, tt.want, rr.Body.String())
			}
			if tt.want == http.StatusCreated {
				resp := decode[model.APIResponse[model.Item]](t, rr)
				if resp.Data.ID != 1 {
					t.Errorf("ID = %d, want 1", resp.Data.ID)
				}
			}
		})
	}
}

func TestRESTHandler_UpdateItem(t *testing.T) {
	// Arrange
	env := newTestEnv(t)
	env.seed(t, "Game", "100.0", 20)

	// Act
	rr := env.do(http.MethodPut, "/api/v1/items/1", `{"name":"Board Game","price":"80","quantity":5}`)

	// Assert
	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decode[model.APIResponse[model.Item]](t, rr)
	if resp.Data.Name != "Board Game" || resp.Data.Quantity != 5 {
		t.Errorf("unexpected item: %+v", resp.Data)
	}

	if rr := env.do(http.MethodPut, "/api/v1/items/99", `{"name":"X","price":"1","quantity":1}`); rr.Code != http.StatusNotFound {
		t.Errorf("missing item Status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestRESTHandler_DeleteItem(t *testing.T) {
	// Arrange
	env := newTestEnv(t)
	env.seed(t, "Game", "100.0", 20)

	// Act
	rr := env.do(http.MethodDelete, "/api/v1/items/1", "")

	// Assert
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if _, err := env.live.Get(context.Background(), 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("item should be gone once DELETE returns, got err %v", err)
	}

	if rr := env.do(http.MethodDelete, "/api/v1/items/1", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete Status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestRESTHandler_Mutations(t *testing.T) {
	tests := []struct {
		name         string
		stock        int
		path         string
		body         string
		wantStatus   int
		wantQuantity int
		wantStock    int
	}{
		{name: "sell", stock: 20, path: "sell", wantStatus: http.StatusAccepted, wantQuantity: 1, wantStock: 19},
		{name: "sell out of stock", stock: 0, path: "sell", wantStatus: http.StatusAccepted, wantQuantity: 1, wantStock: 0},
		{name: "order text quantity", stock: 3, path: "order", body: `{"quantity":"10"}`, wantStatus: http.StatusAccepted, wantQuantity: 10, wantStock: -7},
		{name: "order numeric quantity", stock: 8, path: "order", body: `{"quantity":2}`, wantStatus: http.StatusAccepted, wantQuantity: 2, wantStock: 6},
		{name: "order bad quantity defaults to one", stock: 8, path: "order", body: `{"quantity":"abc"}`, wantStatus: http.StatusAccepted, wantQuantity: 1, wantStock: 7},
		{name: "order fractional json number defaults to one", stock: 8, path: "order", body: `{"quantity":3.0}`, wantStatus: http.StatusAccepted, wantQuantity: 1, wantStock: 7},
		{name: "order without body", stock: 8, path: "order", wantStatus: http.StatusAccepted, wantQuantity: 1, wantStock: 7},
		{name: "purchase exact stock", stock: 3, path: "purchase", body: `{"quantity":3}`, wantStatus: http.StatusAccepted, wantQuantity: 3, wantStock: 0},
		{name: "purchase beyond stock", stock: 3, path: "purchase", body: `{"quantity":"5"}`, wantStatus: http.StatusAccepted, wantQuantity: 5, wantStock: 3},
		{name: "purchase malformed body", stock: 3, path: "purchase", body: `{"quantity":`, wantStatus: http.StatusBadRequest, wantStock: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			env := newTestEnv(t)
			item := env.seed(t, "Game", "100.0", tt.stock)

			// Act
			rr := env.do(http.MethodPost, "/api/v1/items/1/"+tt.path, tt.body)

			// Assert
			if rr.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d, body %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus == http.StatusAccepted {
				resp := decode[model.APIResponse[MutationResponse]](t, rr)
				if resp.Data.Quantity != tt.wantQuantity || resp.Data.ItemID != item.ID {
					t.Errorf("unexpected response: %+v", resp.Data)
				}
			}
			// The last release drains the controller before the response.
			if got := env.quantity(t, item.ID); got != tt.wantStock {
				t.Errorf("stock = %d, want %d", got, tt.wantStock)
			}
		})
	}
}

func TestRESTHandler_MutationOnMissingItem(t *testing.T) {
	env := newTestEnv(t)

	for _, op := range []string{"sell", "order", "purchase"} {
		t.Run(op, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/api/v1/items/42/"+op, "")
			if rr.Code != http.StatusNotFound {
				t.Errorf("Status = %d, want %d", rr.Code, http.StatusNotFound)
			}
		})
	}

	if env.registry.Len() != 0 {
		t.Errorf("registry should be empty, has %d controllers", env.registry.Len())
	}
}

func TestRESTHandler_SellScenario(t *testing.T) {
	// Arrange
	env := newTestEnv(t)
	env.seed(t, "Game", "100.0", 20)

	// Act
	rr := env.do(http.MethodPost, "/api/v1/items/1/sell", "")

	// Assert
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	item, err := env.live.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Name != "Game" || !item.Price.Equal(decimal.NewFromInt(100)) || item.Quantity != 19 {
		t.Errorf("item = %+v, want Game at 100 with 19 left", item)
	}
}

func TestQuantityText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: ""},
		{in: "7", want: "7"},
		{in: json.Number("12"), want: "12"},
		{in: json.Number("2.5"), want: "2.5"},
		{in: true, want: "true"},
	}

	for _, tt := range tests {
		if got := quantityText(tt.in); got != tt.want {
			t.Errorf("quantityText(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
