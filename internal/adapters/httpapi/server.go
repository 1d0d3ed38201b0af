// Package httpapi serves the read-only inspection API: manifests, aliases,
// lineage queries, and metrics. Nothing here mutates the store; runs happen
// through the CLI or the library, never over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/graft/internal/lineage"
	"github.com/aretw0/graft/internal/logging"
	"github.com/aretw0/graft/internal/presentation/graph"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
)

// Config assembles the API server.
type Config struct {
	Store   ports.ObjectStore
	Aliases ports.AliasStore
	Lineage *lineage.Service
	Logger  *slog.Logger
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Version  string
}

// Server holds the read-only dependencies behind the routes.
type Server struct {
	store   ports.ObjectStore
	aliases ports.AliasStore
	lineage *lineage.Service
	logger  *slog.Logger
	version string
}

// NewHandler validates the configuration and builds the router.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("httpapi: Store is required")
	}
	if cfg.Aliases == nil {
		return nil, fmt.Errorf("httpapi: Aliases is required")
	}
	if cfg.Lineage == nil {
		return nil, fmt.Errorf("httpapi: Lineage is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		store:   cfg.Store,
		aliases: cfg.Aliases,
		lineage: cfg.Lineage,
		logger:  logger,
		version: cfg.Version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.GetHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", s.GetInfo)
		r.Get("/manifests", s.ListManifests)
		r.Get("/aliases", s.ListAliases)
		// Catch-all segments: alias names may contain slashes.
		r.Get("/manifests/*", s.GetManifest)
		r.Get("/aliases/*", s.GetAlias)
		r.Get("/who-built/*", s.WhoBuilt)
		r.Get("/trace/*", s.Trace)
	})
	return r, nil
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// GetHealth handles the GET /healthz request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /api/v1/info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"app":     "graft-http",
		"version": s.version,
	})
}

// ListManifests handles the GET /api/v1/manifests request.
func (s *Server) ListManifests(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListManifests(r.Context())
	if err != nil {
		s.writeError(w, fmt.Errorf("list manifests: %w", err))
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	s.writeJSON(w, out)
}

// GetManifest handles the GET /api/v1/manifests/{id} request. The path
// segment may be a run id, an artifact id, or an alias; artifacts resolve to
// the run that produced them.
func (s *Server) GetManifest(w http.ResponseWriter, r *http.Request) {
	m, err := s.resolveManifest(r, chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, m)
}

// ListAliases handles the GET /api/v1/aliases request.
func (s *Server) ListAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := s.aliases.ListAliases(r.Context())
	if err != nil {
		s.writeError(w, fmt.Errorf("list aliases: %w", err))
		return
	}
	out := make([]aliasEntry, len(aliases))
	for i, a := range aliases {
		out[i] = aliasEntry{Name: a.Name, ID: a.ID}
	}
	s.writeJSON(w, out)
}

type aliasEntry struct {
	Name string    `json:"name"`
	ID   domain.ID `json:"id"`
}

// GetAlias handles the GET /api/v1/aliases/{name} request.
func (s *Server) GetAlias(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	id, err := s.aliases.GetAlias(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, aliasEntry{Name: name, ID: id})
}

// WhoBuilt handles the GET /api/v1/who-built/{id} request.
func (s *Server) WhoBuilt(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolveID(r, chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if id.Kind == domain.KindRun {
		http.Error(w, "runs are not produced; pass an artifact id", http.StatusBadRequest)
		return
	}
	m, err := s.lineage.WhoBuilt(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, m)
}

// Trace handles the GET /api/v1/trace/{id} request. With ?format=mermaid the
// response is flowchart text instead of the JSON graph.
func (s *Server) Trace(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolveID(r, chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	g, err := s.lineage.Trace(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "mermaid" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, graph.GenerateMermaid(g))
		return
	}
	s.writeJSON(w, g)
}

// resolveID turns a path segment into a typed id, going through the alias
// store when it is not one already.
func (s *Server) resolveID(r *http.Request, raw string) (domain.ID, error) {
	if id, err := domain.ParseID(raw); err == nil {
		return id, nil
	}
	id, err := s.aliases.GetAlias(r.Context(), raw)
	if err != nil {
		return domain.ID{}, fmt.Errorf("%q: %w", raw, err)
	}
	return id, nil
}

// resolveManifest resolves raw to the manifest it names, following artifact
// ids back to their producing run.
func (s *Server) resolveManifest(r *http.Request, raw string) (*domain.Manifest, error) {
	id, err := s.resolveID(r, raw)
	if err != nil {
		return nil, err
	}
	if id.Kind == domain.KindRun {
		return s.store.GetManifest(r.Context(), id)
	}
	return s.lineage.WhoBuilt(r.Context(), id)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
}
