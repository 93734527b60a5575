package worker

import (
	"context"
	"fmt"

	"github.com/oxbow-systems/sluice/embed"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/metrics"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/types"
	"github.com/oxbow-systems/sluice/vector"
)

// Vectors is the indexing surface the stage handlers write to.
type Vectors interface {
	Upsert(ctx context.Context, collection string, points []vector.Point) error
	DeleteByDoc(ctx context.Context, collection, docID string) error
}

var _ Vectors = (*vector.Store)(nil)

// EmbedHandler embeds policy-enriched chunks and indexes them.
type EmbedHandler struct {
	meta    Meta
	vectors Vectors
	client  embed.Client
	bus     Events
	logger  *log.Logger
	metrics *metrics.Metrics
	audit   auditor
}

var _ Handler = (*EmbedHandler)(nil)

// NewEmbedHandler builds the embedding stage handler.
func NewEmbedHandler(meta Meta, vectors Vectors, client embed.Client, bus Events, logger *log.Logger, m *metrics.Metrics) *EmbedHandler {
	return &EmbedHandler{
		meta:    meta,
		vectors: vectors,
		client:  client,
		bus:     bus,
		logger:  logger,
		metrics: m,
		audit:   auditor{meta: meta, logger: logger, actor: "embed-worker"},
	}
}

// Stage names the stage.
func (h *EmbedHandler) Stage() string { return queue.StageEmbedding }

// Keys returns the per-tenant embedding queues.
func (h *EmbedHandler) Keys(tenants []string) []string {
	return tenantKeys(tenants, queue.StageEmbedding)
}

// Handle embeds one document's surviving chunks. Every vector is asserted
// against the required dimension before anything is written; an endpoint
// failure substitutes zero vectors and records the substitution, never a
// wrong-width vector.
func (h *EmbedHandler) Handle(ctx context.Context, payload []byte) error {
	var job types.EmbedJob
	if err := decodeOrDrop(payload, &job); err != nil {
		return err
	}

	texts := make([]string, len(job.Chunks))
	for i, c := range job.Chunks {
		texts[i] = c.Text
	}

	dims := h.client.Dimensions()
	vecs, err := h.client.Embed(ctx, texts)
	if err != nil {
		// Recorded failure: zero vectors keep the dimension invariant and
		// the document completes; the audit trail shows what happened.
		h.logger.Error("embedding endpoint failed", map[string]any{
			"doc_id": job.DocID, "tenant_id": job.TenantID, "error": err.Error(),
		})
		h.audit.record(ctx, job.TenantID, types.EventDocumentFailed, "document", job.DocID, map[string]any{
			"stage":   "embed",
			"message": "embedding endpoint failed, zero vectors substituted",
			"error":   err.Error(),
		})
		vecs = make([][]float32, len(texts))
		for i := range vecs {
			vecs[i] = embed.ZeroVector(dims)
		}
	}

	points := make([]vector.Point, len(job.Chunks))
	for i, c := range job.Chunks {
		if len(vecs[i]) != dims {
			return fmt.Errorf("%w: chunk %s got %d dims, want %d",
				vector.ErrDimensionMismatch, c.ChunkID, len(vecs[i]), dims)
		}
		points[i] = vector.Point{
			ID:      vector.PointID(c.ChunkID),
			ChunkID: c.ChunkID,
			DocID:   job.DocID,
			Vector:  vecs[i],
			Payload: map[string]any{
				"doc_id":         c.DocID,
				"chunk_id":       c.ChunkID,
				"tenant_id":      c.TenantID,
				"page":           c.Offsets.Page,
				"classification": c.Metadata.Classification,
				"modality":       "text",
				"element_type":   string(c.ElementType),
				"section_title":  c.SectionTitle,
				"text":           c.Text,
			},
		}
	}

	collection := vector.TextCollection(job.TenantID)
	if err := h.vectors.Upsert(ctx, collection, points); err != nil {
		return fmt.Errorf("worker: upsert %d points into %s: %w", len(points), collection, err)
	}
	if err := h.meta.SetDocumentStatus(ctx, job.TenantID, job.DocID, types.DocEmbedded); err != nil {
		return fmt.Errorf("worker: set embedded status: %w", err)
	}
	if h.metrics != nil {
		h.metrics.RecordVectors(job.TenantID, "text", len(points))
	}

	h.audit.record(ctx, job.TenantID, types.EventDocumentEmbedded, "document", job.DocID, map[string]any{
		"file_id":      job.FileID,
		"vector_count": len(points),
		"collection":   collection,
	})
	h.bus.Stage(ctx, "embed", fmt.Sprintf("indexed %d vectors for %s", len(points), job.DocID),
		"info", job.DocID, job.TenantID)
	return nil
}
