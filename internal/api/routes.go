package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/cache"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/config"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/gateway"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/platform"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/store"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/sync"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/upstream"
)

// Handler exposes the agent's local HTTP surface to the POS frontend.
type Handler struct {
	cfg        config.ServerConfig
	manager    *sync.Manager
	prefetcher *sync.Prefetcher
	cache      *cache.Cache
	writer     sync.Replayer
	auth       *gateway.Gateway
	network    platform.Network
	scope      upstream.Scope
}

func NewHandler(
	cfg config.ServerConfig,
	manager *sync.Manager,
	prefetcher *sync.Prefetcher,
	c *cache.Cache,
	writer sync.Replayer,
	auth *gateway.Gateway,
	network platform.Network,
	scope upstream.Scope,
) *Handler {
	return &Handler{
		cfg:        cfg,
		manager:    manager,
		prefetcher: prefetcher,
		cache:      c,
		writer:     writer,
		auth:       auth,
		network:    network,
		scope:      scope,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Post("/auth/login", h.Login)
		r.Get("/status", h.Status)
		r.Post("/sync/drain", h.TriggerDrain)
		r.Post("/sync/prefetch", h.TriggerPrefetch)
		r.Get("/cache/{key}", h.ReadCache)
		r.Post("/orders", h.CreateOrder)
		r.Post("/payments", h.ProcessPayment)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Login proxies credentials to the upstream and keeps the resulting session
// for every later call.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var credentials json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if _, err := h.auth.Login(r.Context(), credentials); err != nil {
		writeUpstreamError(w, err)
		return
	}
	// Tokens stay inside the agent; the frontend only needs the claims.
	user := h.auth.CurrentUser()
	if user == nil {
		user = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

type collectionStatus struct {
	Key     string `json:"key"`
	Cached  bool   `json:"cached"`
	Fresh   bool   `json:"fresh"`
	SavedAt int64  `json:"savedAt,omitempty"`
}

// Status reports connectivity, queue depth and per-collection cache freshness.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := h.manager.PendingCount(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	collections := make([]collectionStatus, 0, len(cache.Keys()))
	for _, key := range cache.Keys() {
		cs := collectionStatus{Key: key}
		if snap := h.cache.Read(ctx, key); snap != nil {
			cs.Cached = true
			cs.SavedAt = snap.SavedAt.UnixMilli()
			cs.Fresh = h.cache.IsFresh(ctx, key, cache.TTLFor(key))
		}
		collections = append(collections, cs)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"online":       h.network.IsOnline(),
		"pendingTasks": pending,
		"draining":     h.manager.Draining(),
		"collections":  collections,
	})
}

func (h *Handler) TriggerDrain(w http.ResponseWriter, r *http.Request) {
	result := h.manager.Drain(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) TriggerPrefetch(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	summary := h.prefetcher.Refresh(r.Context(), sync.PrefetchOptions{
		Scope: h.scope,
		Force: force,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"results":      summary.Results,
		"hasErrors":    summary.HasErrors,
		"offlineReady": summary.OfflineReady(),
	})
}

// ReadCache serves a cached collection, stale or not. The frontend decides
// what staleness it can live with.
func (h *Handler) ReadCache(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !cache.Known(key) {
		http.Error(w, "unknown collection key", http.StatusBadRequest)
		return
	}

	snap := h.cache.Read(r.Context(), key)
	if snap == nil {
		http.Error(w, "collection not cached", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"key":     snap.Key,
		"data":    json.RawMessage(snap.Data),
		"savedAt": snap.SavedAt.UnixMilli(),
		"fresh":   h.cache.IsFresh(r.Context(), key, cache.TTLFor(key)),
	})
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, store.KindCreateOrder, h.writer.CreateOrder)
}

func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, store.KindProcessPayment, h.writer.ProcessPayment)
}

// intake accepts a write from the frontend. Online it goes straight upstream;
// offline, or when the upstream is unreachable, it lands in the durable queue
// for the next drain. Upstream rejections (4xx) are surfaced, not queued: a
// bad order stays bad on retry.
func (h *Handler) intake(w http.ResponseWriter, r *http.Request, kind string, send func(context.Context, json.RawMessage) error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if h.network.IsOnline() {
		err := send(r.Context(), body)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"queued": false})
			return
		}
		var httpErr *gateway.HTTPError
		if errors.As(err, &httpErr) || errors.Is(err, gateway.ErrSessionExpired) || errors.Is(err, gateway.ErrSubscriptionExpired) {
			writeUpstreamError(w, err)
			return
		}
		logger.Log.Warn("Direct write failed, falling back to queue",
			zap.String("kind", kind), zap.Error(err))
	}

	id, err := h.manager.Enqueue(r.Context(), kind, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "taskId": id})
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(h.cfg.CorsOrigins) > 0 {
			origin = strings.Join(h.cfg.CorsOrigins, ", ")
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware guards the local API with a shared bearer token. An empty
// configured token leaves the API open, for dev setups binding to loopback.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != h.cfg.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrSessionExpired):
		http.Error(w, "session expired", http.StatusUnauthorized)
	case errors.Is(err, gateway.ErrSubscriptionExpired):
		http.Error(w, "subscription expired", http.StatusPaymentRequired)
	default:
		var httpErr *gateway.HTTPError
		if errors.As(err, &httpErr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(httpErr.Status)
			w.Write(httpErr.Body)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.Error("Failed to encode response", zap.Error(err))
	}
}
