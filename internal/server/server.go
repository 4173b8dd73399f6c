package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lazypower/membank/internal/engine"
	"github.com/lazypower/membank/internal/federation"
	"github.com/lazypower/membank/internal/store"
)

// Server is the read-only membank HTTP API.
type Server struct {
	store   *store.Store
	fed     *federation.Service
	cache   *cache
	router  chi.Router
	version string
	started time.Time
	logger  *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithFederation answers queries across every bank svc discovers.
func WithFederation(svc *federation.Service) Option {
	return func(s *Server) { s.fed = svc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server over st.
func New(st *store.Store, version string, opts ...Option) *Server {
	s := &Server{
		store:   st,
		version: version,
		started: time.Now(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newCache(st)
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/focus", s.handleFocus)
		r.Get("/forctx", s.handleForContext)
		r.Get("/last", s.handleLast)
		r.Get("/nodes", s.handleListNodes)
		r.Get("/nodes/{uid}", s.handleGetNode)
		r.Get("/links/{uid}", s.handleLinks)
	})

	s.router = r
}

// source is where focus queries read their graph.
func (s *Server) source() engine.Source {
	if s.fed != nil {
		return engine.FederatedSource{Service: s.fed}
	}
	return s.cache
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	g, err := s.cache.Graph(nil)
	nodes := 0
	if err == nil {
		nodes = len(g.Nodes)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    time.Since(s.started).Seconds(),
		"root":      s.store.Root(),
		"nodes":     nodes,
		"federated": s.fed != nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps store error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrAmbiguous):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrConfiguration):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
