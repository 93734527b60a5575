package types

import (
	"fmt"
	"time"
)

// ManifestFile is a single file entry in a batch manifest. Metadata is the
// submitter's custom metadata, validated at intake against the tenant's
// metadata schema when one is configured.
type ManifestFile struct {
	FileID    string         `json:"file_id"`
	Filename  string         `json:"filename"`
	MimeType  string         `json:"mime_type"`
	SizeBytes int64          `json:"size_bytes"`
	SHA256    string         `json:"sha256"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// BatchManifest describes a submitted file bundle. Files in the multipart
// upload are matched to Files entries by position, then cross-checked by
// SHA-256.
type BatchManifest struct {
	BatchID     string         `json:"batch_id"`
	TenantID    string         `json:"tenant_id"`
	FileCount   int            `json:"file_count"`
	Files       []ManifestFile `json:"files"`
	SubmittedAt string         `json:"submitted_at,omitempty"`
	Submitter   string         `json:"submitter,omitempty"`
}

// Validate checks the manifest invariants against the request-path tenant:
//   - batch_id and tenant_id non-empty
//   - tenant_id equals the path tenant
//   - file_count == len(files)
//   - file_id unique within the batch
//
// Violations are returned as an *APIError with a 400-class code.
func (m *BatchManifest) Validate(pathTenantID string) *APIError {
	if m.BatchID == "" {
		return NewAPIError(400, CodeManifestInvalid, "batch_id is required")
	}
	if m.TenantID == "" {
		return NewAPIError(400, CodeManifestInvalid, "tenant_id is required")
	}
	if m.TenantID != pathTenantID {
		return NewAPIError(400, CodeManifestInvalid, "tenant_id in manifest does not match path")
	}
	if m.FileCount != len(m.Files) {
		return NewAPIError(400, CodeFileCountMismatch,
			fmt.Sprintf("file_count %d does not match files length %d", m.FileCount, len(m.Files)))
	}
	seen := make(map[string]struct{}, len(m.Files))
	for _, f := range m.Files {
		if f.FileID == "" {
			return NewAPIError(400, CodeManifestInvalid, "file_id is required for every file")
		}
		if _, dup := seen[f.FileID]; dup {
			return NewAPIError(400, CodeDuplicateFileID,
				fmt.Sprintf("manifest contains duplicate file_id %q", f.FileID))
		}
		seen[f.FileID] = struct{}{}
	}
	return nil
}

// BatchStatus is the persisted admission summary for a batch, keyed by
// (tenant_id, batch_id). GETs against it are idempotent.
type BatchStatus struct {
	BatchID     string    `json:"batch_id"`
	TenantID    string    `json:"tenant_id"`
	FileCount   int       `json:"total_files"`
	Accepted    int       `json:"completed"`
	Rejected    int       `json:"rejected"`
	Quarantined int       `json:"quarantined"`
	SubmittedAt time.Time `json:"submitted_at"`
}
