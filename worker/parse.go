package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oxbow-systems/sluice/blob"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/parse"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/types"
	"github.com/oxbow-systems/sluice/vector"
)

// Blobs is the object-store surface the stage handlers use.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Enqueuer pushes follow-on jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, key string, job any) error
}

// Events publishes best-effort progress events.
type Events interface {
	Stage(ctx context.Context, stage, message, level, documentID, tenantID string)
}

var (
	_ Blobs    = (*blob.Store)(nil)
	_ Enqueuer = (*queue.Fabric)(nil)
	_ Events   = (*queue.Bus)(nil)
)

// ParseHandler turns raw files into canonical structured documents.
type ParseHandler struct {
	blobs   Blobs
	meta    Meta
	vectors Vectors
	jobs    Enqueuer
	bus     Events
	logger  *log.Logger
	audit   auditor
}

var _ Handler = (*ParseHandler)(nil)

// NewParseHandler builds the parse stage handler.
func NewParseHandler(blobs Blobs, meta Meta, vectors Vectors, jobs Enqueuer, bus Events, logger *log.Logger) *ParseHandler {
	return &ParseHandler{
		blobs:   blobs,
		meta:    meta,
		vectors: vectors,
		jobs:    jobs,
		bus:     bus,
		logger:  logger,
		audit:   auditor{meta: meta, logger: logger, actor: "parse-worker"},
	}
}

// Stage names the stage.
func (h *ParseHandler) Stage() string { return queue.StageParse }

// Keys returns the per-tenant parse queues.
func (h *ParseHandler) Keys(tenants []string) []string {
	return tenantKeys(tenants, queue.StageParse)
}

// Handle parses one file. Delivery is at-least-once: when the canonical
// document already exists for the same raw bytes, the job is skipped.
// Parse failures are terminal for the document, not for the worker.
func (h *ParseHandler) Handle(ctx context.Context, payload []byte) error {
	var job types.ParseJob
	if err := decodeOrDrop(payload, &job); err != nil {
		return err
	}

	docID := types.DocID(job.FileID)
	normPath := blob.NormalizedPath(job.TenantID, docID)

	exists, err := h.blobs.Exists(ctx, normPath)
	if err != nil {
		return fmt.Errorf("worker: check normalized object: %w", err)
	}
	if exists {
		prevSHA, err := h.meta.DocumentSHA256(ctx, job.TenantID, docID)
		if err == nil && prevSHA == job.SHA256 {
			h.audit.record(ctx, job.TenantID, types.EventDocumentParseSkip, "document", docID, map[string]any{
				"file_id": job.FileID,
				"sha256":  job.SHA256,
			})
			return nil
		}
		// Same doc id with different bytes is a reparse; drop the stale
		// points before overwriting so chunks of the old content cannot
		// linger in either collection.
		for _, collection := range []string{
			vector.TextCollection(job.TenantID),
			vector.ImageCollection(job.TenantID),
		} {
			if err := h.vectors.DeleteByDoc(ctx, collection, docID); err != nil {
				return fmt.Errorf("worker: delete stale vectors from %s: %w", collection, err)
			}
		}
	}

	raw, err := h.blobs.Get(ctx, job.StoragePath)
	if err != nil {
		return fmt.Errorf("worker: fetch raw object %s: %w", job.StoragePath, err)
	}

	doc, err := parse.BuildDocument(raw, job.MimeType, job.FileID, job.TenantID, job.SHA256)
	if err != nil {
		return h.failDocument(ctx, &job, docID, err)
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("worker: encode canonical document: %w", err)
	}
	if err := h.blobs.Put(ctx, normPath, encoded, "application/json"); err != nil {
		return fmt.Errorf("worker: store canonical document: %w", err)
	}
	if err := h.meta.SetDocumentStatus(ctx, job.TenantID, docID, types.DocParsed); err != nil {
		return fmt.Errorf("worker: set document status: %w", err)
	}

	next := &types.PolicyJob{
		Kind:        types.JobPolicy,
		DocID:       docID,
		FileID:      job.FileID,
		TenantID:    job.TenantID,
		StoragePath: normPath,
		Filename:    job.Filename,
	}
	if err := h.jobs.Enqueue(ctx, queue.Key(job.TenantID, queue.StagePolicy), next); err != nil {
		return fmt.Errorf("worker: enqueue policy job: %w", err)
	}

	h.audit.record(ctx, job.TenantID, types.EventDocumentParsed, "document", docID, map[string]any{
		"file_id":             job.FileID,
		"chunk_count":         doc.Stats.ChunkCount,
		"page_count":          doc.Stats.PageCount,
		"partitioner_version": doc.Lineage.PartitionerVersion,
		"chunker_version":     doc.Lineage.ChunkerVersion,
	})
	h.bus.Stage(ctx, "parse", fmt.Sprintf("parsed %s into %d chunks", job.Filename, doc.Stats.ChunkCount),
		"info", docID, job.TenantID)
	return nil
}

// failDocument records a terminal parse failure. The job itself succeeds so
// the poison payload is not retried.
func (h *ParseHandler) failDocument(ctx context.Context, job *types.ParseJob, docID string, cause error) error {
	reason := types.CodeParserError
	var parseErr *parse.Error
	if errors.As(cause, &parseErr) {
		reason = parseErr.Reason
	}
	if err := h.meta.SetDocumentStatus(ctx, job.TenantID, docID, types.DocFailed); err != nil {
		h.logger.Error("set failed status", map[string]any{"doc_id": docID, "error": err.Error()})
	}
	h.audit.record(ctx, job.TenantID, types.EventDocumentParseFailed, "document", docID, map[string]any{
		"file_id": job.FileID,
		"reason":  string(reason),
		"message": cause.Error(),
	})
	h.bus.Stage(ctx, "parse", fmt.Sprintf("parse failed for %s: %s", job.Filename, reason),
		"error", docID, job.TenantID)
	return nil
}
