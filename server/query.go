package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oxbow-systems/sluice/auth"
	"github.com/oxbow-systems/sluice/embed"
	"github.com/oxbow-systems/sluice/intake"
	"github.com/oxbow-systems/sluice/multimodal"
	"github.com/oxbow-systems/sluice/types"
	"github.com/oxbow-systems/sluice/vector"
)

// Query limits.
const (
	defaultQueryLimit = 10
	maxQueryLimit     = 100
	maxQueryFileBytes = 64 << 20
)

// FileVectorizer derives a query vector from an uploaded media file.
type FileVectorizer interface {
	FromFile(ctx context.Context, filename string, data []byte) ([]float32, error)
}

// Vectorizer maps query files onto the indexing-time modality rules: images
// through the visual model (512-d), audio and video transcribed and then
// embedded as text (768-d).
type Vectorizer struct {
	text        embed.Client
	visual      multimodal.Visual
	transcriber multimodal.Transcriber
}

var _ FileVectorizer = (*Vectorizer)(nil)

// NewVectorizer builds a query-file vectorizer from the worker-side clients.
func NewVectorizer(text embed.Client, visual multimodal.Visual, transcriber multimodal.Transcriber) *Vectorizer {
	return &Vectorizer{text: text, visual: visual, transcriber: transcriber}
}

// FromFile derives the query vector. Unsupported file kinds return a
// *types.APIError; endpoint failures return plain errors.
func (v *Vectorizer) FromFile(ctx context.Context, filename string, data []byte) ([]float32, error) {
	switch intake.DetectModality(filename) {
	case intake.ModalityImage:
		vec, err := v.visual.EmbedImage(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("visual embedding: %w", err)
		}
		return vec, nil
	case intake.ModalityAudio, intake.ModalityVideo:
		transcript, err := v.transcriber.Transcribe(ctx, data, filename)
		if err != nil {
			return nil, fmt.Errorf("transcription: %w", err)
		}
		if strings.TrimSpace(transcript) == "" {
			return nil, types.NewAPIError(http.StatusBadRequest,
				types.CodeUnsupportedQueryFile, "no speech found in query file")
		}
		vecs, err := v.text.Embed(ctx, []string{transcript})
		if err != nil {
			return nil, fmt.Errorf("transcript embedding: %w", err)
		}
		return vecs[0], nil
	default:
		return nil, types.NewAPIError(http.StatusBadRequest,
			types.CodeUnsupportedQueryFile, "query_file must be an image, audio, or video file")
	}
}

type queryRequest struct {
	Vector []float32 `json:"vector"`
	Limit  int       `json:"limit"`
}

type queryHit struct {
	ChunkID string         `json:"chunk_id"`
	DocID   string         `json:"doc_id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// handleQuery searches a collection by explicit vector (JSON body) or by
// query_file (multipart). The token must belong to the collection's tenant.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.collectionAuthorized(r, name) {
		writeError(w, types.NewAPIError(http.StatusForbidden,
			types.CodeInsufficientScope, "token is not valid for this collection"))
		return
	}

	query, limit, apiErr := s.readQuery(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	matches, err := s.search.Search(r.Context(), name, query, limit)
	switch {
	case errors.Is(err, vector.ErrNoCollection):
		writeError(w, types.NewAPIError(http.StatusNotFound,
			types.CodeResourceNotFound, "collection not found"))
		return
	case errors.Is(err, vector.ErrDimensionMismatch):
		writeError(w, types.NewAPIError(http.StatusBadRequest,
			types.CodeDimensionMismatch, "query vector width does not match the collection"))
		return
	case err != nil:
		s.logger.Error("search failed", map[string]any{"collection": name, "error": err.Error()})
		writeError(w, types.NewAPIError(http.StatusServiceUnavailable,
			types.CodeDBUnavailable, "search failed"))
		return
	}

	hits := make([]queryHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, queryHit{ChunkID: m.ChunkID, DocID: m.DocID, Score: m.Score, Payload: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection": name,
		"count":      len(hits),
		"hits":       hits,
	})
}

// readQuery extracts the query vector and limit from either request shape.
func (s *Server) readQuery(r *http.Request) ([]float32, int, *types.APIError) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return s.readQueryFile(r)
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, 0, types.NewAPIError(http.StatusBadRequest,
			types.CodeManifestInvalid, "request body is not valid JSON")
	}
	if len(req.Vector) == 0 {
		return nil, 0, types.NewAPIError(http.StatusBadRequest,
			types.CodeManifestInvalid, "vector or query_file is required")
	}
	return req.Vector, clampLimit(req.Limit), nil
}

func (s *Server) readQueryFile(r *http.Request) ([]float32, int, *types.APIError) {
	if s.vectorize == nil {
		return nil, 0, types.NewAPIError(http.StatusBadRequest,
			types.CodeUnsupportedQueryFile, "query-by-file is not enabled")
	}
	if err := r.ParseMultipartForm(maxQueryFileBytes); err != nil {
		return nil, 0, types.NewAPIError(http.StatusBadRequest,
			types.CodeManifestInvalid, "malformed multipart body")
	}
	file, header, err := r.FormFile("query_file")
	if err != nil {
		return nil, 0, types.NewAPIError(http.StatusBadRequest,
			types.CodeManifestInvalid, "query_file part is required")
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, 0, types.NewAPIError(http.StatusBadRequest,
			types.CodeManifestInvalid, "unreadable query_file")
	}

	query, err := s.vectorize.FromFile(r.Context(), header.Filename, data)
	if err != nil {
		var ae *types.APIError
		if errors.As(err, &ae) {
			return nil, 0, ae
		}
		s.logger.Error("query vectorization failed", map[string]any{
			"filename": header.Filename, "error": err.Error(),
		})
		return nil, 0, types.NewAPIError(http.StatusServiceUnavailable,
			types.CodeDBUnavailable, "query vectorization failed")
	}

	limit, _ := strconv.Atoi(r.FormValue("limit"))
	return query, clampLimit(limit), nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultQueryLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// collectionAuthorized checks the token's tenant owns the named collection.
func (s *Server) collectionAuthorized(r *http.Request, name string) bool {
	if s.verifier.Bypass() {
		return true
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		return false
	}
	return name == vector.TextCollection(claims.TenantID) ||
		name == vector.ImageCollection(claims.TenantID)
}
