package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/inventory-tracker/internal/inventory"
	"github.com/vyrodovalexey/inventory-tracker/internal/model"
	"github.com/vyrodovalexey/inventory-tracker/internal/search"
	"github.com/vyrodovalexey/inventory-tracker/internal/store"
)

// Version is the application version.
const Version = "1.0.0"

// MutationResponse acknowledges a queued quantity mutation.
type MutationResponse struct {
	Operation string `json:"operation"`
	ItemID    int64  `json:"item_id"`
	Quantity  int    `json:"quantity"`
}

// RESTHandler handles REST API requests for items.
type RESTHandler struct {
	store    store.Store
	registry *inventory.Registry
	logger   *zap.Logger
}

// NewRESTHandler creates a new RESTHandler instance.
func NewRESTHandler(s store.Store, registry *inventory.Registry, logger *zap.Logger) *RESTHandler {
	return &RESTHandler{
		store:    s,
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes registers the REST API routes with the router.
func (h *RESTHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/items", h.ListItems).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/items", h.CreateItem).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/items/{id}", h.GetItem).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/items/{id}", h.UpdateItem).Methods(http.MethodPut)
	router.HandleFunc("/api/v1/items/{id}", h.DeleteItem).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/items/{id}/sell", h.SellItem).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/items/{id}/order", h.OrderItem).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/items/{id}/purchase", h.PurchaseItem).Methods(http.MethodPost)
}

// HealthCheck handles GET /health requests.
func (h *RESTHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: Version,
	}
	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(response))
}

// ListItems handles GET /api/v1/items requests. The optional q parameter
// filters the list the same way live search does.
func (h *RESTHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	items, err := h.store.List(ctx)
	if err != nil {
		h.logger.Error("failed to list items", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to retrieve items")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(search.Filter(items, r.URL.Query().Get("q"))))
}

// GetItem handles GET /api/v1/items/{id} requests.
func (h *RESTHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}

	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.handleStoreError(w, err, "get item")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(model.NewItemDetails(*item)))
}

// CreateItem handles POST /api/v1/items requests.
func (h *RESTHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeItem(w, r)
	if !ok {
		return
	}

	item, err := h.store.Create(r.Context(), input)
	if err != nil {
		h.handleStoreError(w, err, "create item")
		return
	}

	h.writeJSON(w, http.StatusCreated, model.NewSuccessResponse(item))
}

// UpdateItem handles PUT /api/v1/items/{id} requests.
func (h *RESTHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}

	input, ok := h.decodeItem(w, r)
	if !ok {
		return
	}

	item, err := h.store.Update(r.Context(), id, input)
	if err != nil {
		h.handleStoreError(w, err, "update item")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(item))
}

// DeleteItem handles DELETE /api/v1/items/{id} requests. It responds once
// the store has removed the item.
func (h *RESTHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}

	ctrl := h.registry.Acquire(id)
	defer h.registry.Release(id)

	if _, err := ctrl.Snapshot(ctx); err != nil {
		h.handleStoreError(w, err, "delete item")
		return
	}

	if err := ctrl.Delete(ctx); err != nil {
		h.handleStoreError(w, err, "delete item")
		return
	}

	h.writeJSON(w, http.StatusNoContent, nil)
}

// SellItem handles POST /api/v1/items/{id}/sell requests.
func (h *RESTHandler) SellItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, inventory.OpSell, false, func(c *inventory.Controller, _ int) {
		c.Sell()
	})
}

// OrderItem handles POST /api/v1/items/{id}/order requests.
func (h *RESTHandler) OrderItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, inventory.OpOrder, true, func(c *inventory.Controller, quantity int) {
		c.Order(quantity)
	})
}

// PurchaseItem handles POST /api/v1/items/{id}/purchase requests.
func (h *RESTHandler) PurchaseItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, inventory.OpPurchase, true, func(c *inventory.Controller, quantity int) {
		c.Purchase(quantity)
	})
}

// mutate hands a quantity mutation to the item's controller. The mutation
// is applied asynchronously; stock rules may turn it into a no-op.
func (h *RESTHandler) mutate(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	withQuantity bool,
	apply func(c *inventory.Controller, quantity int),
) {
	ctx := r.Context()
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}

	quantity := 1
	if withQuantity {
		var req model.QuantityRequest
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.logger.Warn("invalid request body", zap.Error(err))
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		quantity = inventory.ParseQuantity(quantityText(req.Quantity))
	}

	ctrl := h.registry.Acquire(id)
	defer h.registry.Release(id)

	if _, err := ctrl.Snapshot(ctx); err != nil {
		h.handleStoreError(w, err, op+" item")
		return
	}

	apply(ctrl, quantity)

	h.logger.Debug("mutation accepted",
		zap.String("op", op),
		zap.Int64("item_id", id),
		zap.Int("quantity", quantity),
	)
	h.writeJSON(w, http.StatusAccepted, model.NewSuccessResponse(MutationResponse{
		Operation: op,
		ItemID:    id,
		Quantity:  quantity,
	}))
}

// itemID parses the {id} path variable, writing a 400 when it is not a
// positive integer.
func (h *RESTHandler) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid item ID")
		return 0, false
	}
	return id, true
}

// decodeItem reads and validates an item body.
func (h *RESTHandler) decodeItem(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	var input model.Item
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	if err := input.Validate(); err != nil {
		h.logger.Warn("validation failed", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	return &input, true
}

// handleStoreError handles store errors and writes appropriate HTTP responses.
func (h *RESTHandler) handleStoreError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, store.ErrInvalidID):
		h.writeError(w, http.StatusBadRequest, "invalid item ID")
	case errors.Is(err, inventory.ErrQueueFull), errors.Is(err, inventory.ErrClosed):
		h.writeError(w, http.StatusServiceUnavailable, "item is busy, retry later")
	default:
		h.logger.Error("store operation failed", zap.String("operation", operation), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response with the given status code.
func (h *RESTHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error response with the given status code and message.
func (h *RESTHandler) writeError(w http.ResponseWriter, status int, message string) {
	response := model.ErrorResponse{
		Code:    status,
		Message: message,
	}
	h.writeJSON(w, status, response)
}

// quantityText renders a decoded JSON quantity as the text a user typed.
func quantityText(v any) string {
	switch q := v.(type) {
	case nil:
		return ""
	case string:
		return q
	case json.Number:
		return q.String()
	default:
		return fmt.Sprint(q)
	}
}
