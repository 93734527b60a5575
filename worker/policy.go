package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/policy"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/tenantconf"
	"github.com/oxbow-systems/sluice/types"
)

// PolicyHandler runs the three governance gates over parsed documents.
type PolicyHandler struct {
	blobs  Blobs
	meta   Meta
	jobs   Enqueuer
	bus    Events
	logger *log.Logger
	audit  auditor
}

var _ Handler = (*PolicyHandler)(nil)

// NewPolicyHandler builds the policy stage handler.
func NewPolicyHandler(blobs Blobs, meta Meta, jobs Enqueuer, bus Events, logger *log.Logger) *PolicyHandler {
	return &PolicyHandler{
		blobs:  blobs,
		meta:   meta,
		jobs:   jobs,
		bus:    bus,
		logger: logger,
		audit:  auditor{meta: meta, logger: logger, actor: "policy-worker"},
	}
}

// Stage names the stage.
func (h *PolicyHandler) Stage() string { return queue.StagePolicy }

// Keys returns the per-tenant policy queues.
func (h *PolicyHandler) Keys(tenants []string) []string {
	return tenantKeys(tenants, queue.StagePolicy)
}

// Handle gates one document. Blocked and fully quarantined documents stop
// here; surviving chunks move to the embedding queue.
func (h *PolicyHandler) Handle(ctx context.Context, payload []byte) error {
	var job types.PolicyJob
	if err := decodeOrDrop(payload, &job); err != nil {
		return err
	}

	tenant, err := h.meta.GetTenant(ctx, job.TenantID)
	if err != nil {
		return fmt.Errorf("worker: load tenant %s: %w", job.TenantID, err)
	}
	cfg, err := tenantconf.Parse(tenant.Config)
	if err != nil {
		return fmt.Errorf("worker: tenant %s config: %w", job.TenantID, err)
	}

	encoded, err := h.blobs.Get(ctx, job.StoragePath)
	if err != nil {
		return fmt.Errorf("worker: fetch canonical document %s: %w", job.StoragePath, err)
	}
	var doc types.CanonicalDocument
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return fmt.Errorf("worker: decode canonical document %s: %w", job.StoragePath, err)
	}

	outcome := policy.RunGates(&doc, cfg, job.Filename)

	details := map[string]any{
		"file_id":          job.FileID,
		"passed":           len(outcome.Passing),
		"quarantined":      outcome.QuarantinedCount,
		"classification":   outcome.Classification,
		"confidence":       outcome.Confidence,
		"document_blocked": outcome.DocumentBlocked,
		"pii_policy":       string(cfg.PIIPolicy),
	}

	switch {
	case outcome.DocumentBlocked:
		if err := h.meta.SetDocumentStatus(ctx, job.TenantID, job.DocID, types.DocBlocked); err != nil {
			return fmt.Errorf("worker: set blocked status: %w", err)
		}
		h.audit.record(ctx, job.TenantID, types.EventDocumentPolicy, "document", job.DocID, details)
		h.bus.Stage(ctx, "policy", fmt.Sprintf("document %s blocked by PII policy", job.DocID),
			"warning", job.DocID, job.TenantID)
		return nil

	case len(outcome.Passing) == 0:
		if err := h.meta.SetDocumentStatus(ctx, job.TenantID, job.DocID, types.DocQuarantined); err != nil {
			return fmt.Errorf("worker: set quarantined status: %w", err)
		}
		h.audit.record(ctx, job.TenantID, types.EventDocumentPolicy, "document", job.DocID, details)
		h.bus.Stage(ctx, "policy", fmt.Sprintf("document %s fully quarantined", job.DocID),
			"warning", job.DocID, job.TenantID)
		return nil
	}

	next := &types.EmbedJob{
		Kind:        types.JobEmbed,
		DocID:       job.DocID,
		FileID:      job.FileID,
		TenantID:    job.TenantID,
		StoragePath: job.StoragePath,
		Chunks:      outcome.Passing,
	}
	if err := h.jobs.Enqueue(ctx, queue.Key(job.TenantID, queue.StageEmbedding), next); err != nil {
		return fmt.Errorf("worker: enqueue embed job: %w", err)
	}
	if err := h.meta.SetDocumentStatus(ctx, job.TenantID, job.DocID, types.DocPolicyApplied); err != nil {
		return fmt.Errorf("worker: set policy_applied status: %w", err)
	}

	h.audit.record(ctx, job.TenantID, types.EventDocumentPolicy, "document", job.DocID, details)
	h.bus.Stage(ctx, "policy", fmt.Sprintf("policy applied to %s: %d passed, %d quarantined",
		job.DocID, len(outcome.Passing), outcome.QuarantinedCount), "info", job.DocID, job.TenantID)
	return nil
}
