package worker

import (
	"context"
	"fmt"

	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/metrics"
	"github.com/oxbow-systems/sluice/multimodal"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/types"
)

// MultimodalHandler consumes the shared multimodal queue.
type MultimodalHandler struct {
	meta      Meta
	processor *multimodal.Processor
	bus       Events
	logger    *log.Logger
	metrics   *metrics.Metrics
	audit     auditor
}

var _ Handler = (*MultimodalHandler)(nil)

// NewMultimodalHandler builds the multimodal stage handler.
func NewMultimodalHandler(meta Meta, processor *multimodal.Processor, bus Events, logger *log.Logger, m *metrics.Metrics) *MultimodalHandler {
	return &MultimodalHandler{
		meta:      meta,
		processor: processor,
		bus:       bus,
		logger:    logger,
		metrics:   m,
		audit:     auditor{meta: meta, logger: logger, actor: "multimodal-worker"},
	}
}

// Stage names the stage.
func (h *MultimodalHandler) Stage() string { return "multimodal" }

// Keys returns the single shared multimodal queue regardless of tenants.
func (h *MultimodalHandler) Keys([]string) []string {
	return []string{queue.MultimodalKey}
}

// Handle processes one image, audio, or video job. Failures mark the
// document failed; the job is consumed either way.
func (h *MultimodalHandler) Handle(ctx context.Context, payload []byte) error {
	var job types.MultimodalJob
	if err := decodeOrDrop(payload, &job); err != nil {
		return err
	}

	outcome, err := h.processor.Process(ctx, &job)
	if err != nil {
		if statusErr := h.meta.SetDocumentStatus(ctx, job.TenantID, job.DocumentID, types.DocFailed); statusErr != nil {
			h.logger.Error("set failed status", map[string]any{"doc_id": job.DocumentID, "error": statusErr.Error()})
		}
		h.audit.record(ctx, job.TenantID, types.EventDocumentFailed, "document", job.DocumentID, map[string]any{
			"job_id":   job.JobID,
			"filename": job.Filename,
			"error":    err.Error(),
		})
		h.bus.Stage(ctx, "multimodal", fmt.Sprintf("processing failed for %s", job.Filename),
			"error", job.DocumentID, job.TenantID)
		return err
	}

	if err := h.meta.SetDocumentStatus(ctx, job.TenantID, job.DocumentID, types.DocCompleted); err != nil {
		return fmt.Errorf("worker: set completed status: %w", err)
	}
	if h.metrics != nil {
		h.metrics.RecordVectors(job.TenantID, "text", outcome.TextPoints)
		h.metrics.RecordVectors(job.TenantID, "image", outcome.ImagePoints)
	}

	h.audit.record(ctx, job.TenantID, types.EventDocumentEmbedded, "document", job.DocumentID, map[string]any{
		"job_id":       job.JobID,
		"filename":     job.Filename,
		"modality":     string(outcome.Modality),
		"text_points":  outcome.TextPoints,
		"image_points": outcome.ImagePoints,
	})
	h.bus.Stage(ctx, "multimodal", fmt.Sprintf("processed %s: %d text, %d image vectors",
		job.Filename, outcome.TextPoints, outcome.ImagePoints), "info", job.DocumentID, job.TenantID)
	return nil
}
