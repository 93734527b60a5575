package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oxbow-systems/sluice/types"
)

// maxBatchBytes bounds a whole multipart submission.
const maxBatchBytes = 512 << 20

// handleBatchSubmit admits a multipart batch: a "manifest" part (JSON) and
// one "files" part per manifest entry, order-matched. Responds 202 with the
// full receipt response; per-file failures live inside it.
func (s *Server) handleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")

	allowed, err := s.limiter.Allow(r.Context(), tenantID)
	if err != nil {
		s.logger.Error("rate limit check failed", map[string]any{"tenant_id": tenantID, "error": err.Error()})
		writeError(w, types.NewAPIError(http.StatusServiceUnavailable,
			types.CodeDBUnavailable, "rate limiter unavailable"))
		return
	}
	if !allowed {
		writeError(w, types.NewAPIError(http.StatusTooManyRequests,
			types.CodeRateLimitExceeded, "batch admission rate limit exceeded"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBytes)
	manifest, uploads, apiErr := readBatchParts(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	resp, err := s.intake.ProcessBatch(r.Context(), tenantID, manifest, uploads)
	if err != nil {
		var ae *types.APIError
		if errors.As(err, &ae) {
			writeError(w, ae)
			return
		}
		s.logger.Error("batch admission failed", map[string]any{
			"tenant_id": tenantID, "batch_id": manifest.BatchID, "error": err.Error(),
		})
		writeError(w, types.NewAPIError(http.StatusServiceUnavailable,
			types.CodeDBUnavailable, "batch admission failed"))
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// readBatchParts walks the multipart stream in order so uploads keep their
// positional match with manifest.files.
func readBatchParts(r *http.Request) (*types.BatchManifest, [][]byte, *types.APIError) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, nil, types.NewAPIError(http.StatusBadRequest,
			types.CodeManifestInvalid, "request must be multipart/form-data")
	}

	var manifest *types.BatchManifest
	var uploads [][]byte
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, types.NewAPIError(http.StatusBadRequest,
				types.CodeManifestInvalid, "malformed multipart body")
		}
		switch part.FormName() {
		case "manifest":
			var m types.BatchManifest
			if err := json.NewDecoder(part).Decode(&m); err != nil {
				return nil, nil, types.NewAPIError(http.StatusBadRequest,
					types.CodeManifestInvalid, "manifest part is not valid JSON")
			}
			manifest = &m
		case "files":
			data, err := io.ReadAll(part)
			if err != nil {
				return nil, nil, types.NewAPIError(http.StatusBadRequest,
					types.CodeManifestInvalid, "unreadable file part")
			}
			uploads = append(uploads, data)
		}
	}
	if manifest == nil {
		return nil, nil, types.NewAPIError(http.StatusBadRequest,
			types.CodeManifestInvalid, "manifest part is required")
	}
	return manifest, uploads, nil
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	b, err := s.meta.GetBatch(r.Context(), chi.URLParam(r, "tenant_id"), chi.URLParam(r, "batch_id"))
	serveStored(w, b, err, "batch")
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := s.meta.GetReceipt(r.Context(), chi.URLParam(r, "tenant_id"), chi.URLParam(r, "receipt_id"))
	serveStored(w, rc, err, "receipt")
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	d, err := s.meta.GetDocument(r.Context(), chi.URLParam(r, "tenant_id"), chi.URLParam(r, "doc_id"))
	serveStored(w, d, err, "document")
}

// handleAuditTrail returns the chain-of-custody view for one document.
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	events, err := s.meta.AuditTrail(r.Context(), chi.URLParam(r, "tenant_id"),
		"document", chi.URLParam(r, "doc_id"))
	if err != nil {
		writeError(w, types.NewAPIError(http.StatusServiceUnavailable,
			types.CodeDBUnavailable, "audit lookup failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
