package observability

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Health serves liveness and readiness probes for the coordinator.
type Health struct {
	logger *zap.Logger
	server *http.Server

	mu         sync.RWMutex
	storeReady bool
	feedReady  bool
}

// NewHealth creates a health probe server.
func NewHealth(logger *zap.Logger) *Health {
	return &Health{logger: logger}
}

// SetStoreReady marks the order store as usable.
func (h *Health) SetStoreReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.storeReady = ready
}

// SetFeedReady marks the price-feed publisher as usable.
func (h *Health) SetFeedReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feedReady = ready
}

// Start runs the probe server; it blocks until the server stops.
func (h *Health) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	h.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	h.logger.Info("starting health server", zap.String("addr", addr))
	return h.server.ListenAndServe()
}

// Shutdown stops the probe server.
func (h *Health) Shutdown(ctx context.Context) error {
	if h.server != nil {
		return h.server.Shutdown(ctx)
	}
	return nil
}

func (h *Health) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Health) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	ready := h.storeReady && h.feedReady
	h.mu.RUnlock()

	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("NOT_READY"))
}
