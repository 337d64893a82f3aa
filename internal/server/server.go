// Package server exposes the library, graph, layout and term resolver over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/decipher/internal/graph"
	"github.com/ppiankov/decipher/internal/layout"
	"github.com/ppiankov/decipher/internal/library"
	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/metrics"
	"github.com/ppiankov/decipher/internal/pipeline"
	"github.com/ppiankov/decipher/internal/resolver"
)

// Deps are the components served by the API
type Deps struct {
	Pipeline       *pipeline.Pipeline
	Library        *library.Library
	Graph          *graph.Store
	Layout         *layout.Runner
	Resolver       *resolver.Resolver
	Metrics        *metrics.Collector
	Logger         *logger.Logger
	AllowedOrigins []string
}

// Server holds HTTP handlers and the state of the background batch
type Server struct {
	deps     Deps
	log      *logger.Logger
	validate *validator.Validate

	baseCtx context.Context
	batches sync.WaitGroup

	mu       sync.RWMutex
	progress *pipeline.Progress
	batchErr string
}

// New creates a server. ctx bounds background batches.
func New(ctx context.Context, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		deps:     deps,
		log:      deps.Logger,
		validate: validator.New(),
		baseCtx:  ctx,
	}
	if deps.Layout != nil && deps.Graph != nil {
		deps.Layout.Update(deps.Graph.Snapshot())
	}
	return s
}

// Wait blocks until background batches have finished
func (s *Server) Wait() {
	s.batches.Wait()
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(s.log, s.deps.Metrics))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/healthz", s.health)
	router.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.createBatch)
			r.Get("/current", s.currentBatch)
		})

		r.Route("/library", func(r chi.Router) {
			r.Get("/", s.listDocuments)
			r.Get("/{docID}", s.getDocument)
			r.Patch("/{docID}", s.updateDocument)
			r.Post("/{docID}/notes", s.addNote)
		})

		r.Route("/graph", func(r chi.Router) {
			r.Get("/", s.getGraph)
			r.Get("/concepts/{conceptID}/document", s.conceptDocument)
		})

		r.Route("/layout", func(r chi.Router) {
			r.Get("/", s.getLayout)
			r.Put("/pins/{nodeID}", s.pinNode)
			r.Delete("/pins/{nodeID}", s.releaseNode)
		})

		r.Route("/explain", func(r chi.Router) {
			r.Post("/", s.requestExplanation)
			r.Get("/", s.getExplanation)
		})
	})

	return router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"documents": s.deps.Library.Len(),
		"time":      time.Now().UTC(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request: "+describeValidation(err))
		return false
	}
	return true
}
