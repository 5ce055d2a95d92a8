// Package companion implements the service that receives plugin state
// pushed by dashboards.
//
// Routes:
//
//	POST /api/plugins/sync     replace the plugin list ({"plugins": [...]})
//	GET  /api/plugins          the last synced list
//	GET  /api/plugins/enabled  IDs of enabled plugins
//	GET  /healthz
package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/kv"
	"github.com/dshills/devscope/internal/plugin/enablement"
)

// StateKey is the storage key of the synced plugin list.
const StateKey = "companion_plugins"

// maxBody bounds sync request bodies.
const maxBody = 1 << 20

// Server holds the most recent plugin list.
type Server struct {
	mu      sync.RWMutex
	plugins []enablement.PluginState
	synced  time.Time

	store  kv.Store
	onSync func([]enablement.PluginState)
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStore persists the plugin list so it survives restarts.
func WithStore(s kv.Store) Option {
	return func(srv *Server) {
		srv.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// OnSync registers fn to run after every accepted sync.
func OnSync(fn func([]enablement.PluginState)) Option {
	return func(srv *Server) {
		srv.onSync = fn
	}
}

// New creates a server, restoring the persisted list when a store is set.
func New(ctx context.Context, opts ...Option) (*Server, error) {
	srv := &Server{
		plugins: []enablement.PluginState{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.logger = srv.logger.Named("companion")

	if srv.store != nil {
		data, err := srv.store.Get(ctx, StateKey)
		switch {
		case errors.Is(err, kv.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("restore plugin list: %w", err)
		default:
			if err := json.Unmarshal(data, &srv.plugins); err != nil {
				srv.logger.Warn("discarding corrupt plugin list", zap.Error(err))
				srv.plugins = []enablement.PluginState{}
			}
		}
	}
	return srv, nil
}

// Plugins returns a copy of the last synced list.
func (s *Server) Plugins() []enablement.PluginState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]enablement.PluginState, len(s.plugins))
	copy(out, s.plugins)
	return out
}

// Enabled returns the IDs of enabled plugins in list order.
func (s *Server) Enabled() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []string{}
	for _, p := range s.plugins {
		if p.IsEnabled {
			ids = append(ids, p.PluginID)
		}
	}
	return ids
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the companion routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/plugins", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/enabled", s.handleEnabled)
		r.Post("/sync", s.handleSync)
	})
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- httpSrv.ListenAndServe()
	}()
	s.logger.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("companion server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("companion shutdown: %w", err)
		}
		return nil
	}
}

type listResponse struct {
	Plugins  []enablement.PluginState `json:"plugins"`
	SyncedAt *time.Time               `json:"syncedAt,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := listResponse{Plugins: make([]enablement.PluginState, len(s.plugins))}
	copy(resp.Plugins, s.plugins)
	if !s.synced.IsZero() {
		synced := s.synced
		resp.SyncedAt = &synced
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnabled(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"enabled": s.Enabled()})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req enablement.SyncRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	if req.Plugins == nil {
		writeError(w, http.StatusBadRequest, "missing plugins")
		return
	}

	seen := make(map[string]bool, len(req.Plugins))
	for i, p := range req.Plugins {
		if p.PluginID == "" {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("plugins[%d]: missing pluginId", i))
			return
		}
		if seen[p.PluginID] {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("plugins[%d]: duplicate pluginId %q", i, p.PluginID))
			return
		}
		seen[p.PluginID] = true
	}

	if s.store != nil {
		data, err := json.Marshal(req.Plugins)
		if err == nil {
			err = s.store.Put(r.Context(), StateKey, data)
		}
		if err != nil {
			s.logger.Error("persist plugin list failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "persist plugin list")
			return
		}
	}

	s.mu.Lock()
	s.plugins = req.Plugins
	s.synced = time.Now()
	s.mu.Unlock()

	s.logger.Info("plugin list synced", zap.Int("plugins", len(req.Plugins)))
	if s.onSync != nil {
		s.onSync(append([]enablement.PluginState(nil), req.Plugins...))
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": len(req.Plugins)})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
