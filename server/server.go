// Package server exposes the pipeline's HTTP surface: batch submission,
// batch/receipt/document lookups, vector query, the progress event stream,
// health, and metrics.
//
// Every tenant-scoped route sits behind bearer auth with a tenant match, so
// one tenant's token can never read another's batches or search another's
// collections. Per-file admission failures are data in the 202 response;
// only request-level violations (manifest shape, auth, rate limit) produce
// 4xx.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/oxbow-systems/sluice/auth"
	"github.com/oxbow-systems/sluice/intake"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/metrics"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/ratelimit"
	"github.com/oxbow-systems/sluice/store"
	"github.com/oxbow-systems/sluice/types"
	"github.com/oxbow-systems/sluice/vector"
)

// Intake admits batches.
type Intake interface {
	ProcessBatch(ctx context.Context, pathTenantID string, manifest *types.BatchManifest, uploads [][]byte) (*types.BatchReceiptResponse, error)
}

// Meta is the read surface for stored admission and audit state.
type Meta interface {
	GetBatch(ctx context.Context, tenantID, batchID string) (*types.BatchStatus, error)
	GetReceipt(ctx context.Context, tenantID, receiptID string) (*types.IntakeReceipt, error)
	GetDocument(ctx context.Context, tenantID, docID string) (*types.Document, error)
	AuditTrail(ctx context.Context, tenantID, resourceType, resourceID string) ([]types.AuditEvent, error)
	Ping(ctx context.Context) error
}

// Searcher runs similarity queries against a collection.
type Searcher interface {
	Search(ctx context.Context, name string, query []float32, limit int) ([]vector.Match, error)
}

// Limiter gates batch admissions per tenant.
type Limiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
}

// EventSource delivers pipeline progress events.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan types.ProgressEvent, error)
}

var (
	_ Intake      = (*intake.Service)(nil)
	_ Meta        = (*store.Store)(nil)
	_ Searcher    = (*vector.Store)(nil)
	_ Limiter     = (*ratelimit.Limiter)(nil)
	_ EventSource = (*queue.Bus)(nil)
)

// Server is the HTTP surface. Build it with New, mount Router.
type Server struct {
	intake    Intake
	meta      Meta
	search    Searcher
	limiter   Limiter
	events    EventSource
	vectorize FileVectorizer
	verifier  *auth.Verifier
	metrics   *metrics.Metrics
	logger    *log.Logger
	cors      []string
}

// New builds the HTTP surface. vectorize may be nil when query-by-file is
// not wired (the endpoint then accepts vectors only).
func New(in Intake, meta Meta, search Searcher, limiter Limiter, events EventSource,
	vectorize FileVectorizer, verifier *auth.Verifier, m *metrics.Metrics,
	logger *log.Logger, corsOrigins []string) *Server {
	return &Server{
		intake:    in,
		meta:      meta,
		search:    search,
		limiter:   limiter,
		events:    events,
		vectorize: vectorize,
		verifier:  verifier,
		metrics:   m,
		logger:    logger,
		cors:      corsOrigins,
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(s.cors) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cors,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}))
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.Route("/ingest/{tenant_id}", func(r chi.Router) {
			r.Use(s.verifier.RequireTenant)
			r.With(s.verifier.RequireScope(auth.ScopeIngest)).Post("/batch", s.handleBatchSubmit)
			r.Get("/batch/{batch_id}", s.handleBatchStatus)
			r.Get("/receipt/{receipt_id}", s.handleReceipt)
			r.Get("/document/{doc_id}", s.handleDocument)
			r.Get("/document/{doc_id}/audit", s.handleAuditTrail)
		})

		r.Post("/collections/{name}/query", s.handleQuery)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.meta.Ping(r.Context()); err != nil {
		writeError(w, types.NewAPIError(http.StatusServiceUnavailable,
			types.CodeDBUnavailable, "control-plane database unreachable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveStored renders a lookup result, mapping missing rows to 404 and
// store failures to 503.
func serveStored[T any](w http.ResponseWriter, v T, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, types.NewAPIError(http.StatusNotFound,
			types.CodeResourceNotFound, what+" not found"))
		return
	}
	if err != nil {
		writeError(w, types.NewAPIError(http.StatusServiceUnavailable,
			types.CodeDBUnavailable, "lookup failed"))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, apiErr *types.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": apiErr})
}
