package types

import (
	"fmt"
	"time"
)

// AuditEventType is an audit event discriminator. The set is closed.
type AuditEventType string

// Audit event types.
const (
	EventBatchReceived       AuditEventType = "BATCH_RECEIVED"
	EventDocumentIngested    AuditEventType = "DOCUMENT_INGESTED"
	EventDocumentRejected    AuditEventType = "DOCUMENT_REJECTED"
	EventDocumentQuarantined AuditEventType = "DOCUMENT_QUARANTINED"
	EventDocumentParsed      AuditEventType = "DOCUMENT_PARSED"
	EventDocumentParseFailed AuditEventType = "DOCUMENT_PARSE_FAILED"
	EventDocumentParseSkip   AuditEventType = "DOCUMENT_PARSE_SKIPPED"
	EventDocumentPolicy      AuditEventType = "DOCUMENT_POLICY_APPLIED"
	EventDocumentEmbedded    AuditEventType = "DOCUMENT_EMBEDDED"
	EventDocumentFailed      AuditEventType = "DOCUMENT_PROCESSING_FAILED"
	EventTenantCreated       AuditEventType = "TENANT_CREATED"
	EventTenantProvisioned   AuditEventType = "TENANT_PROVISIONED"
	EventTenantDeprovisioned AuditEventType = "TENANT_DEPROVISIONED"
)

// AuditEvent is an append-only per-tenant record of a material state change.
// PreviousEventID forms the per-tenant causal chain; insertion is idempotent
// on EventID.
type AuditEvent struct {
	EventID         string         `json:"event_id"`
	TenantID        string         `json:"tenant_id"`
	EventType       AuditEventType `json:"event_type"`
	Timestamp       time.Time      `json:"timestamp"`
	Actor           string         `json:"actor"`
	ResourceType    string         `json:"resource_type"`
	ResourceID      string         `json:"resource_id"`
	Details         map[string]any `json:"details"`
	PreviousEventID string         `json:"previous_event_id,omitempty"`
}

// Validate checks the event shape before insert.
func (e *AuditEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id must be non-empty")
	}
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id must be non-empty")
	}
	if e.EventType == "" || e.ResourceType == "" || e.ResourceID == "" {
		return fmt.Errorf("event_type, resource_type, and resource_id must be non-empty")
	}
	return nil
}

// ProgressEvent is the best-effort pipeline progress message published on
// the pipeline:events channel for the admin SSE stream. Publication must
// never block or fail pipeline execution.
type ProgressEvent struct {
	Stage      string `json:"stage"`
	Message    string `json:"message"`
	Level      string `json:"level"`
	Timestamp  string `json:"timestamp"`
	DocumentID string `json:"document_id,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
}
