// Package worker runs pipeline stage consumers over the queue fabric.
//
// A Runner blocks on the union of the stage's per-tenant queues, refreshing
// the ACTIVE tenant set periodically so newly provisioned tenants become
// live without a restart. Delivery is at-least-once; every handler is
// idempotent. A handler error never crashes the runner: the job is counted
// as failed and the loop continues.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/metrics"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/store"
	"github.com/oxbow-systems/sluice/types"
)

// Handler processes one job payload for a stage.
type Handler interface {
	// Stage names the pipeline stage for logs and metrics.
	Stage() string
	// Keys returns the queue keys to block on for the given ACTIVE tenants.
	Keys(tenants []string) []string
	// Handle processes one payload. Returning an error counts the job as
	// failed; the payload is not requeued.
	Handle(ctx context.Context, payload []byte) error
}

// Meta is the control-plane surface shared by the runner and handlers.
type Meta interface {
	GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error)
	ListActiveTenants(ctx context.Context) ([]string, error)
	SetDocumentStatus(ctx context.Context, tenantID, docID string, status types.DocumentStatus) error
	DocumentSHA256(ctx context.Context, tenantID, docID string) (string, error)
	InsertAuditEvent(ctx context.Context, ev *types.AuditEvent) error
	LatestAuditEventID(ctx context.Context, tenantID string) (string, error)
}

var _ Meta = (*store.Store)(nil)

// Runner consumes one stage.
type Runner struct {
	fabric     *queue.Fabric
	meta       Meta
	handler    Handler
	logger     *log.Logger
	metrics    *metrics.Metrics
	refresh    time.Duration
	popTimeout time.Duration
}

// NewRunner builds a stage runner. Zero durations default to 60s tenant
// refresh and 5s pop timeout.
func NewRunner(fabric *queue.Fabric, meta Meta, handler Handler, logger *log.Logger, m *metrics.Metrics, refresh, popTimeout time.Duration) *Runner {
	if refresh <= 0 {
		refresh = 60 * time.Second
	}
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	return &Runner{
		fabric:     fabric,
		meta:       meta,
		handler:    handler,
		logger:     logger,
		metrics:    m,
		refresh:    refresh,
		popTimeout: popTimeout,
	}
}

// Run consumes jobs until the context is cancelled. The job in flight when
// cancellation arrives finishes on a detached context so shutdown never
// abandons half-processed work.
func (r *Runner) Run(ctx context.Context) error {
	stage := r.handler.Stage()
	r.logger.Info("worker started", map[string]any{"stage": stage})

	var keys []string
	lastRefresh := time.Time{}
	for {
		if ctx.Err() != nil {
			r.logger.Info("worker draining", map[string]any{"stage": stage})
			return nil
		}
		if time.Since(lastRefresh) >= r.refresh || keys == nil {
			tenants, err := r.meta.ListActiveTenants(ctx)
			if err != nil {
				r.logger.Error("tenant refresh failed", map[string]any{"stage": stage, "error": err.Error()})
				time.Sleep(time.Second)
				continue
			}
			keys = r.handler.Keys(tenants)
			lastRefresh = time.Now()
		}
		if len(keys) == 0 {
			// No ACTIVE tenants yet; wait out a refresh interval.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.popTimeout):
			}
			continue
		}

		key, payload, err := r.fabric.Dequeue(ctx, keys, r.popTimeout)
		if errors.Is(err, queue.ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("dequeue failed", map[string]any{"stage": stage, "error": err.Error()})
			time.Sleep(time.Second)
			continue
		}

		start := time.Now()
		jobCtx := context.WithoutCancel(ctx)
		if err := r.handler.Handle(jobCtx, payload); err != nil {
			r.logger.Error("job failed", map[string]any{"stage": stage, "key": key, "error": err.Error()})
			if r.metrics != nil {
				r.metrics.RecordJob(stage, "error")
			}
		} else if r.metrics != nil {
			r.metrics.RecordJob(stage, "ok")
		}
		if r.metrics != nil {
			r.metrics.ObserveStage(stage, start)
		}
	}
}

// tenantKeys maps ACTIVE tenants onto their per-stage queue keys.
func tenantKeys(tenants []string, stage string) []string {
	keys := make([]string, 0, len(tenants))
	for _, t := range tenants {
		keys = append(keys, queue.Key(t, stage))
	}
	return keys
}

// auditor appends chained audit events on behalf of a worker stage. Audit
// failures are logged, never propagated.
type auditor struct {
	meta   Meta
	logger *log.Logger
	actor  string
}

func (a *auditor) record(ctx context.Context, tenantID string, evType types.AuditEventType, resourceType, resourceID string, details map[string]any) {
	prev, err := a.meta.LatestAuditEventID(ctx, tenantID)
	if err != nil {
		a.logger.Error("audit chain lookup failed", map[string]any{"tenant_id": tenantID, "error": err.Error()})
		prev = ""
	}
	ev := &types.AuditEvent{
		EventID:         uuid.NewString(),
		TenantID:        tenantID,
		EventType:       evType,
		Timestamp:       time.Now().UTC(),
		Actor:           a.actor,
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		Details:         details,
		PreviousEventID: prev,
	}
	if err := a.meta.InsertAuditEvent(ctx, ev); err != nil {
		a.logger.Error("audit insert failed", map[string]any{
			"tenant_id": tenantID, "event_type": string(evType), "error": err.Error(),
		})
	}
}

// decodeOrDrop decodes and validates a payload. A payload that cannot be
// decoded is poison: it is dropped with an error rather than retried forever.
func decodeOrDrop(payload []byte, job queue.Job) error {
	if err := queue.Decode(payload, job); err != nil {
		return fmt.Errorf("worker: drop undecodable job: %w", err)
	}
	return nil
}
