package types

// DocumentStatus tracks a document's progress through the pipeline.
type DocumentStatus string

// Document statuses. Text documents move ingested -> parsed ->
// policy_applied -> embedded; multimodal documents move processing ->
// completed. Failure states are terminal.
const (
	DocIngested      DocumentStatus = "ingested"
	DocParsed        DocumentStatus = "parsed"
	DocPolicyApplied DocumentStatus = "policy_applied"
	DocEmbedded      DocumentStatus = "embedded"
	DocProcessing    DocumentStatus = "processing"
	DocCompleted     DocumentStatus = "completed"
	DocBlocked       DocumentStatus = "blocked"
	DocQuarantined   DocumentStatus = "quarantined"
	DocFailed        DocumentStatus = "failed"
)

// Document is the control-plane record tracking one ingested file through
// the pipeline. The heavyweight content lives in the object store; this row
// carries identity, lineage, and status only.
type Document struct {
	DocID    string         `json:"doc_id"`
	TenantID string         `json:"tenant_id"`
	FileID   string         `json:"file_id"`
	BatchID  string         `json:"batch_id"`
	Filename string         `json:"filename"`
	SHA256   string         `json:"sha256"`
	Status   DocumentStatus `json:"status"`
}
