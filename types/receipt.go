package types

import "time"

// ScanResult is the malware scan outcome recorded on a receipt.
type ScanResult string

// Scan outcomes. ScanSkipped means the scan daemon was unreachable and the
// file was admitted anyway (unless scan.required is configured).
const (
	ScanClean       ScanResult = "clean"
	ScanQuarantined ScanResult = "quarantined"
	ScanSkipped     ScanResult = "skipped"
)

// ReceiptStatus is the per-file admission decision.
type ReceiptStatus string

// Admission decisions.
const (
	StatusAccepted    ReceiptStatus = "accepted"
	StatusRejected    ReceiptStatus = "rejected"
	StatusQuarantined ReceiptStatus = "quarantined"
)

// IntakeReceipt is the immutable per-file record produced at admission,
// keyed by (tenant_id, receipt_id). Never updated after creation; its
// lifetime is unbounded (audit requirement).
type IntakeReceipt struct {
	ReceiptID        string        `json:"receipt_id"`
	TenantID         string        `json:"tenant_id"`
	BatchID          string        `json:"batch_id"`
	FileID           string        `json:"file_id"`
	OriginalFilename string        `json:"original_filename"`
	MimeType         string        `json:"mime_type"` // sniffed, not declared
	SizeBytes        int64         `json:"size_bytes"`
	SHA256           string        `json:"sha256"`
	ScanResult       ScanResult    `json:"scan_result"`
	ReceivedAt       time.Time     `json:"received_at"`
	StoragePath      string        `json:"storage_path"`
	Status           ReceiptStatus `json:"status"`
}

// ReceiptEntry is the per-file summary in the batch response.
type ReceiptEntry struct {
	ReceiptID string        `json:"receipt_id"`
	FileID    string        `json:"file_id"`
	Status    ReceiptStatus `json:"status"`
}

// RejectedFile is a per-file reject entry in the batch response.
type RejectedFile struct {
	FileID  string       `json:"file_id"`
	Reason  RejectReason `json:"reason"`
	Message string       `json:"message"`
}

// QuarantinedFile is a per-file quarantine entry in the batch response.
type QuarantinedFile struct {
	FileID  string       `json:"file_id"`
	Reason  RejectReason `json:"reason"`
	Message string       `json:"message"`
}

// BatchReceiptResponse is the 202 Accepted admission response. Partial
// success is the norm: accepted, rejected, and quarantined files all appear.
type BatchReceiptResponse struct {
	BatchID          string            `json:"batch_id"`
	TenantID         string            `json:"tenant_id"`
	FileCount        int               `json:"file_count"`
	Accepted         int               `json:"accepted"`
	Rejected         int               `json:"rejected"`
	Quarantined      int               `json:"quarantined"`
	Receipts         []ReceiptEntry    `json:"receipts"`
	RejectedFiles    []RejectedFile    `json:"rejected_files"`
	QuarantinedFiles []QuarantinedFile `json:"quarantined_files"`
	ReceivedAt       time.Time         `json:"received_at"`
}
