package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/inventory-tracker/internal/inventory"
	"github.com/vyrodovalexey/inventory-tracker/internal/model"
	"github.com/vyrodovalexey/inventory-tracker/internal/search"
	"github.com/vyrodovalexey/inventory-tracker/internal/store"
)

// WebSocket configuration constants.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// WebSocketHandler streams live search results and item details.
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	feed       store.Feed
	registry   *inventory.Registry
	searchOpts search.Options
	logger     *zap.Logger
	mu         sync.RWMutex
	clients    map[*websocket.Conn]context.CancelFunc
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(
	feed store.Feed,
	registry *inventory.Registry,
	searchOpts search.Options,
	logger *zap.Logger,
) *WebSocketHandler {
	if searchOpts.Logger == nil {
		searchOpts.Logger = logger
	}

	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		feed:       feed,
		registry:   registry,
		searchOpts: searchOpts,
		logger:     logger,
		clients:    make(map[*websocket.Conn]context.CancelFunc),
	}
}

// RegisterRoutes registers the WebSocket routes with the router.
func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/search", h.HandleSearch).Methods(http.MethodGet)
	router.HandleFunc("/ws/items/{id}", h.HandleItem).Methods(http.MethodGet)
}

// HandleSearch streams search results. Each connection owns a search
// pipeline; the client sends query messages and receives a results message
// whenever the matching list changes. An initial query may be passed as q.
//
//nolint:contextcheck // WebSocket connections outlive the HTTP request context
func (h *WebSocketHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	initial := r.URL.Query().Get("q")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.addClient(conn, cancel)

	pipeline := search.NewPipeline(h.feed, h.searchOpts)
	if initial != "" {
		pipeline.Restore(search.State{Query: initial})
	}

	results := pipeline.Results(ctx)
	out := make(chan model.StreamMessage, 1)
	go func() {
		defer close(out)
		for items := range results {
			select {
			case out <- model.NewResultsMessage(items):
			case <-ctx.Done():
				return
			}
		}
	}()

	h.logger.Info("search client connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	replies := make(chan model.StreamMessage, 1)
	go h.writePump(ctx, conn, out, replies)
	go h.readPump(ctx, conn, cancel, replies, func(msg model.StreamMessage) {
		if msg.Type == model.StreamTypeQuery {
			pipeline.SetQuery(msg.Query)
		}
	}, pipeline.Close)
}

// HandleItem streams the details of one item and the failures of writes
// made to it.
//
//nolint:contextcheck // WebSocket connections outlive the HTTP request context
func (h *WebSocketHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid item ID", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.addClient(conn, cancel)

	ctrl := h.registry.Acquire(id)
	details := ctrl.Details(ctx)
	errs := ctrl.Failures(ctx)

	out := make(chan model.StreamMessage, 1)
	go func() {
		defer close(out)
		for {
			var msg model.StreamMessage
			select {
			case <-ctx.Done():
				return
			case d, ok := <-details:
				if !ok {
					return
				}
				msg = model.NewDetailsMessage(d)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				msg = model.NewErrorMessage(err)
			}

			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	h.logger.Info("item client connected",
		zap.Int64("item_id", id),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	replies := make(chan model.StreamMessage, 1)
	go h.writePump(ctx, conn, out, replies)
	go h.readPump(ctx, conn, cancel, replies, nil, func() {
		h.registry.Release(id)
	})
}

// readPump handles incoming messages until the connection fails, then
// runs cleanup. Client pings are answered on replies.
func (h *WebSocketHandler) readPump(
	ctx context.Context,
	conn *websocket.Conn,
	cancel context.CancelFunc,
	replies chan<- model.StreamMessage,
	onMessage func(model.StreamMessage),
	cleanup func(),
) {
	defer func() {
		cancel()
		h.removeClient(conn)
		cleanup()
		if err := conn.Close(); err != nil {
			h.logger.Debug("error closing connection", zap.Error(err))
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("failed to set read deadline", zap.Error(err))
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket read error", zap.Error(err))
				}
				return
			}

			var msg model.StreamMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				h.logger.Debug("ignoring malformed message", zap.ByteString("message", message))
				continue
			}
			if msg.Type == model.StreamTypePing {
				select {
				case replies <- model.NewPongMessage():
				default:
				}
				continue
			}
			if onMessage != nil {
				onMessage(msg)
			}
		}
	}
}

// writePump forwards stream messages and replies, and keeps the connection
// alive with pings. It sends a close frame when ctx ends or out is closed.
func (h *WebSocketHandler) writePump(
	ctx context.Context,
	conn *websocket.Conn,
	out <-chan model.StreamMessage,
	replies <-chan model.StreamMessage,
) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.sendCloseMessage(conn)
			return
		case msg, ok := <-out:
			if !ok {
				h.sendCloseMessage(conn)
				return
			}
			if err := h.sendMessage(conn, msg); err != nil {
				h.logger.Debug("failed to send message", zap.Error(err))
				return
			}
		case msg := <-replies:
			if err := h.sendMessage(conn, msg); err != nil {
				h.logger.Debug("failed to send reply", zap.Error(err))
				return
			}
		case <-pingTicker.C:
			if err := h.sendPing(conn); err != nil {
				h.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// sendMessage writes one stream message to the connection.
func (h *WebSocketHandler) sendMessage(conn *websocket.Conn, msg model.StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// sendPing sends a ping message to the connection.
func (h *WebSocketHandler) sendPing(conn *websocket.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// sendCloseMessage sends a close message to the connection.
func (h *WebSocketHandler) sendCloseMessage(conn *websocket.Conn) {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("failed to set write deadline for close", zap.Error(err))
		return
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed")
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		h.logger.Debug("failed to send close message", zap.Error(err))
	}
}

func (h *WebSocketHandler) addClient(conn *websocket.Conn, cancel context.CancelFunc) {
	h.mu.Lock()
	h.clients[conn] = cancel
	h.mu.Unlock()
}

// removeClient removes a client from the clients map.
func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cancel, exists := h.clients[conn]; exists {
		cancel()
		delete(h.clients, conn)
		h.logger.Info("websocket client disconnected", zap.String("remote_addr", conn.RemoteAddr().String()))
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAllConnections closes all active WebSocket connections.
func (h *WebSocketHandler) CloseAllConnections() {
	h.mu.Lock()
	clients := make(map[*websocket.Conn]context.CancelFunc, len(h.clients))
	for conn, cancel := range h.clients {
		clients[conn] = cancel
	}
	h.mu.Unlock()

	// Cancelling makes each writePump send its close frame.
	for _, cancel := range clients {
		cancel()
	}

	time.Sleep(100 * time.Millisecond)

	h.mu.Lock()
	for conn := range h.clients {
		if err := conn.Close(); err != nil {
			h.logger.Debug("error closing connection", zap.Error(err))
		}
		delete(h.clients, conn)
	}
	h.mu.Unlock()

	h.logger.Info("all websocket connections closed")
}
