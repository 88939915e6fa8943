package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// readyTimeout bounds the store ping behind /readyz.
const readyTimeout = 2 * time.Second

// Pinger reports whether the item store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeHandler serves the liveness and readiness endpoints.
type ProbeHandler struct {
	store  Pinger
	logger *zap.Logger
}

// NewProbeHandler creates a probe handler that checks s for readiness.
func NewProbeHandler(s Pinger, logger *zap.Logger) *ProbeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProbeHandler{store: s, logger: logger}
}

// RegisterRoutes registers /healthz and /readyz.
func (h *ProbeHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", h.Readiness).Methods(http.MethodGet)
}

// Liveness always answers while the process serves HTTP.
func (h *ProbeHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, HealthResponse{Status: "healthy", Version: Version})
}

// Readiness answers 503 while the store cannot be reached.
func (h *ProbeHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		writeProbe(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not ready", Reason: "store unavailable"})
		return
	}

	writeProbe(w, http.StatusOK, ReadyResponse{Status: "ready"})
}

func writeProbe(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
