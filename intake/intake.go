// Package intake admits batches of files into the pipeline.
//
// Admission runs a fixed gate order per file: size, checksum, MIME,
// malware. Gate failures are data in the batch response, never errors; one
// bad file never fails the batch. Accepted files land in the object store
// under raw/{tenant_id}/{file_id}/{sha256} and enter either the tenant's
// parse queue or the shared multimodal queue, routed by filename extension.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/oxbow-systems/sluice/blob"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/scan"
	"github.com/oxbow-systems/sluice/store"
	"github.com/oxbow-systems/sluice/tenantconf"
	"github.com/oxbow-systems/sluice/types"
)

// Blobs is the object-store surface intake writes to.
type Blobs interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Meta is the control-plane surface intake reads and writes.
type Meta interface {
	GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error)
	PutBatch(ctx context.Context, b *types.BatchStatus) error
	PutReceipt(ctx context.Context, r *types.IntakeReceipt) error
	UpsertDocument(ctx context.Context, d *types.Document) error
	InsertAuditEvent(ctx context.Context, ev *types.AuditEvent) error
	LatestAuditEventID(ctx context.Context, tenantID string) (string, error)
}

// Enqueuer pushes jobs onto the queue fabric.
type Enqueuer interface {
	Enqueue(ctx context.Context, key string, job any) error
}

// Events publishes best-effort progress events.
type Events interface {
	Stage(ctx context.Context, stage, message, level, documentID, tenantID string)
}

var (
	_ Blobs    = (*blob.Store)(nil)
	_ Meta     = (*store.Store)(nil)
	_ Enqueuer = (*queue.Fabric)(nil)
	_ Events   = (*queue.Bus)(nil)
)

// Options tunes optional intake behavior.
type Options struct {
	// Scanner is the malware scanner. Nil means no daemon is configured;
	// files are admitted with scan_result=skipped unless ScanRequired.
	Scanner scan.Scanner

	// ScanRequired rejects files when the scanner is unreachable instead of
	// admitting them as skipped.
	ScanRequired bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service admits batches. All dependencies are narrow interfaces so the
// admission logic tests against in-memory fakes.
type Service struct {
	blobs        Blobs
	meta         Meta
	jobs         Enqueuer
	bus          Events
	logger       *log.Logger
	scanner      scan.Scanner
	scanRequired bool
	now          func() time.Time
}

// New builds an intake service.
func New(blobs Blobs, meta Meta, jobs Enqueuer, bus Events, logger *log.Logger, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		blobs:        blobs,
		meta:         meta,
		jobs:         jobs,
		bus:          bus,
		logger:       logger,
		scanner:      opts.Scanner,
		scanRequired: opts.ScanRequired,
		now:          now,
	}
}

// decision is the per-file admission outcome.
type decision struct {
	receipt    *types.IntakeReceipt
	reject     *types.RejectedFile
	quarantine *types.QuarantinedFile
}

// ProcessBatch validates the manifest, runs the admission gates per file,
// persists receipts and the batch summary, and enqueues pipeline jobs.
// Uploads match manifest entries by position; a missing slot rejects the
// file, not the batch. Validation and tenant failures return *types.APIError.
func (s *Service) ProcessBatch(ctx context.Context, pathTenantID string, manifest *types.BatchManifest, uploads [][]byte) (*types.BatchReceiptResponse, error) {
	tenant, err := s.meta.GetTenant(ctx, pathTenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NewAPIError(404, types.CodeTenantNotFound, fmt.Sprintf("tenant %q not found", pathTenantID))
	}
	if err != nil {
		return nil, fmt.Errorf("intake: load tenant %s: %w", pathTenantID, err)
	}
	if tenant.State != types.TenantActive {
		return nil, types.NewAPIError(404, types.CodeTenantNotFound,
			fmt.Sprintf("tenant %q is %s, not ACTIVE", pathTenantID, tenant.State))
	}
	cfg, err := tenantconf.Parse(tenant.Config)
	if err != nil {
		return nil, fmt.Errorf("intake: tenant %s config: %w", pathTenantID, err)
	}
	if apiErr := manifest.Validate(pathTenantID); apiErr != nil {
		return nil, apiErr
	}

	received := s.now().UTC()
	s.audit(ctx, pathTenantID, types.EventBatchReceived, "batch", manifest.BatchID, map[string]any{
		"file_count": manifest.FileCount,
		"submitter":  manifest.Submitter,
	})

	resp := &types.BatchReceiptResponse{
		BatchID:          manifest.BatchID,
		TenantID:         pathTenantID,
		FileCount:        manifest.FileCount,
		Receipts:         []types.ReceiptEntry{},
		RejectedFiles:    []types.RejectedFile{},
		QuarantinedFiles: []types.QuarantinedFile{},
		ReceivedAt:       received,
	}
	for i, mf := range manifest.Files {
		var data []byte
		if i < len(uploads) {
			data = uploads[i]
		}
		d, err := s.admitFile(ctx, pathTenantID, cfg, manifest.BatchID, mf, data, received)
		if err != nil {
			return nil, fmt.Errorf("intake: file %s: %w", mf.FileID, err)
		}
		if err := s.meta.PutReceipt(ctx, d.receipt); err != nil {
			return nil, fmt.Errorf("intake: persist receipt for %s: %w", mf.FileID, err)
		}
		resp.Receipts = append(resp.Receipts, types.ReceiptEntry{
			ReceiptID: d.receipt.ReceiptID,
			FileID:    mf.FileID,
			Status:    d.receipt.Status,
		})
		switch {
		case d.reject != nil:
			resp.Rejected++
			resp.RejectedFiles = append(resp.RejectedFiles, *d.reject)
		case d.quarantine != nil:
			resp.Quarantined++
			resp.QuarantinedFiles = append(resp.QuarantinedFiles, *d.quarantine)
		default:
			resp.Accepted++
		}
	}

	if err := s.meta.PutBatch(ctx, &types.BatchStatus{
		BatchID:     manifest.BatchID,
		TenantID:    pathTenantID,
		FileCount:   manifest.FileCount,
		Accepted:    resp.Accepted,
		Rejected:    resp.Rejected,
		Quarantined: resp.Quarantined,
		SubmittedAt: received,
	}); err != nil {
		return nil, fmt.Errorf("intake: persist batch %s: %w", manifest.BatchID, err)
	}
	return resp, nil
}

// admitFile runs the gates for one file: size, checksum, MIME, metadata,
// malware.
// Gate failures come back as reject/quarantine decisions; only
// infrastructure failures (object store, queue) return an error.
func (s *Service) admitFile(ctx context.Context, tenantID string, cfg *tenantconf.Config, batchID string, mf types.ManifestFile, data []byte, received time.Time) (decision, error) {
	if data == nil {
		return s.reject(ctx, tenantID, batchID, mf, received,
			types.RejectChecksumMismatch, "file not found in upload"), nil
	}
	if int64(len(data)) > cfg.MaxFileSizeBytes() {
		return s.reject(ctx, tenantID, batchID, mf, received, types.RejectSizeExceeded,
			fmt.Sprintf("file is %d bytes, limit is %d MB", len(data), cfg.MaxFileSizeMB)), nil
	}

	sum := sha256.Sum256(data)
	actualSHA := hex.EncodeToString(sum[:])
	if !strings.EqualFold(actualSHA, mf.SHA256) {
		return s.reject(ctx, tenantID, batchID, mf, received,
			types.RejectChecksumMismatch, "sha256 does not match manifest"), nil
	}

	// The MIME gate applies to every file. Routing by extension decides
	// which queue an accepted file goes to, never whether it is accepted.
	sniffed := mimetype.Detect(data)
	if !cfg.MimeAllowed(sniffed.String()) {
		return s.reject(ctx, tenantID, batchID, mf, received, types.RejectUnsupportedFormat,
			fmt.Sprintf("detected type %q is not on the tenant allowlist", sniffed.String())), nil
	}
	if !mimeCompatible(mf.MimeType, sniffed) {
		return s.reject(ctx, tenantID, batchID, mf, received, types.RejectUnsupportedFormat,
			fmt.Sprintf("declared type %q does not match detected %q", mf.MimeType, sniffed.String())), nil
	}

	if err := cfg.ValidateMetadata(mf.Metadata); err != nil {
		return s.reject(ctx, tenantID, batchID, mf, received, types.RejectMetadataInvalid, err.Error()), nil
	}

	modality := DetectModality(mf.Filename)

	scanResult := types.ScanSkipped
	if s.scanner != nil {
		res, err := s.scanner.Scan(ctx, data)
		switch {
		case err == nil && res.Status == scan.StatusInfected:
			return s.quarantineFile(ctx, tenantID, batchID, mf, data, actualSHA, sniffed.String(), received, res.Signature)
		case err == nil:
			scanResult = types.ScanClean
		default:
			if s.scanRequired {
				return s.reject(ctx, tenantID, batchID, mf, received,
					types.RejectScanUnavailable, "malware scanner unreachable"), nil
			}
			s.logger.Warn("malware scan skipped", map[string]any{
				"tenant_id": tenantID, "file_id": mf.FileID, "error": err.Error(),
			})
		}
	} else if s.scanRequired {
		return s.reject(ctx, tenantID, batchID, mf, received,
			types.RejectScanUnavailable, "malware scanner not configured"), nil
	}

	storagePath := blob.RawPath(tenantID, mf.FileID, actualSHA)
	if err := s.blobs.Put(ctx, storagePath, data, sniffed.String()); err != nil {
		return decision{}, fmt.Errorf("store raw object: %w", err)
	}

	docID := types.DocID(mf.FileID)
	status := types.DocIngested
	if modality != ModalityText {
		status = types.DocProcessing
	}
	if err := s.meta.UpsertDocument(ctx, &types.Document{
		DocID:    docID,
		TenantID: tenantID,
		FileID:   mf.FileID,
		BatchID:  batchID,
		Filename: mf.Filename,
		SHA256:   actualSHA,
		Status:   status,
	}); err != nil {
		return decision{}, fmt.Errorf("persist document row: %w", err)
	}

	if err := s.enqueue(ctx, tenantID, batchID, mf, docID, actualSHA, sniffed.String(), storagePath, modality); err != nil {
		return decision{}, err
	}

	s.audit(ctx, tenantID, types.EventDocumentIngested, "document", docID, map[string]any{
		"file_id":     mf.FileID,
		"batch_id":    batchID,
		"filename":    mf.Filename,
		"sha256":      actualSHA,
		"mime_type":   sniffed.String(),
		"scan_result": string(scanResult),
		"modality":    string(modality),
	})
	s.bus.Stage(ctx, "intake", fmt.Sprintf("ingested %s", mf.Filename), "info", docID, tenantID)

	return decision{receipt: &types.IntakeReceipt{
		ReceiptID:        newReceiptID(),
		TenantID:         tenantID,
		BatchID:          batchID,
		FileID:           mf.FileID,
		OriginalFilename: mf.Filename,
		MimeType:         sniffed.String(),
		SizeBytes:        int64(len(data)),
		SHA256:           actualSHA,
		ScanResult:       scanResult,
		ReceivedAt:       received,
		StoragePath:      storagePath,
		Status:           types.StatusAccepted,
	}}, nil
}

func (s *Service) enqueue(ctx context.Context, tenantID, batchID string, mf types.ManifestFile, docID, sha, mimeType, storagePath string, modality Modality) error {
	if modality == ModalityText {
		job := &types.ParseJob{
			Kind:        types.JobParse,
			FileID:      mf.FileID,
			BatchID:     batchID,
			SHA256:      sha,
			StoragePath: storagePath,
			TenantID:    tenantID,
			MimeType:    mimeType,
			Filename:    mf.Filename,
		}
		if err := s.jobs.Enqueue(ctx, queue.Key(tenantID, queue.StageParse), job); err != nil {
			return fmt.Errorf("enqueue parse job: %w", err)
		}
		return nil
	}
	job := &types.MultimodalJob{
		Kind:        types.JobMultimodal,
		JobID:       uuid.NewString(),
		DocumentID:  docID,
		TenantID:    tenantID,
		Filename:    mf.Filename,
		StoragePath: storagePath,
		SHA256:      sha,
	}
	if err := s.jobs.Enqueue(ctx, queue.MultimodalKey, job); err != nil {
		return fmt.Errorf("enqueue multimodal job: %w", err)
	}
	return nil
}

// reject records a per-file rejection: receipt row, audit event, progress
// event. Nothing is stored and nothing is enqueued.
func (s *Service) reject(ctx context.Context, tenantID, batchID string, mf types.ManifestFile, received time.Time, reason types.RejectReason, message string) decision {
	s.audit(ctx, tenantID, types.EventDocumentRejected, "file", mf.FileID, map[string]any{
		"batch_id": batchID,
		"filename": mf.Filename,
		"reason":   string(reason),
		"message":  message,
	})
	s.bus.Stage(ctx, "intake", fmt.Sprintf("rejected %s: %s", mf.Filename, reason), "warning", "", tenantID)
	return decision{
		receipt: &types.IntakeReceipt{
			ReceiptID:        newReceiptID(),
			TenantID:         tenantID,
			BatchID:          batchID,
			FileID:           mf.FileID,
			OriginalFilename: mf.Filename,
			MimeType:         mf.MimeType,
			SizeBytes:        mf.SizeBytes,
			SHA256:           mf.SHA256,
			ScanResult:       types.ScanSkipped,
			ReceivedAt:       received,
			Status:           types.StatusRejected,
		},
		reject: &types.RejectedFile{FileID: mf.FileID, Reason: reason, Message: message},
	}
}

// quarantineFile stores infected content under quarantine/ so it is
// preserved for forensics but never enters the pipeline.
func (s *Service) quarantineFile(ctx context.Context, tenantID, batchID string, mf types.ManifestFile, data []byte, sha, mimeType string, received time.Time, signature string) (decision, error) {
	storagePath := blob.QuarantinePath(tenantID, mf.FileID, sha)
	if err := s.blobs.Put(ctx, storagePath, data, mimeType); err != nil {
		return decision{}, fmt.Errorf("store quarantined object: %w", err)
	}
	docID := types.DocID(mf.FileID)
	if err := s.meta.UpsertDocument(ctx, &types.Document{
		DocID:    docID,
		TenantID: tenantID,
		FileID:   mf.FileID,
		BatchID:  batchID,
		Filename: mf.Filename,
		SHA256:   sha,
		Status:   types.DocQuarantined,
	}); err != nil {
		return decision{}, fmt.Errorf("persist document row: %w", err)
	}
	message := fmt.Sprintf("malware detected: %s", signature)
	s.audit(ctx, tenantID, types.EventDocumentQuarantined, "document", docID, map[string]any{
		"file_id":   mf.FileID,
		"batch_id":  batchID,
		"filename":  mf.Filename,
		"signature": signature,
	})
	s.bus.Stage(ctx, "intake", fmt.Sprintf("quarantined %s", mf.Filename), "warning", docID, tenantID)
	return decision{
		receipt: &types.IntakeReceipt{
			ReceiptID:        newReceiptID(),
			TenantID:         tenantID,
			BatchID:          batchID,
			FileID:           mf.FileID,
			OriginalFilename: mf.Filename,
			MimeType:         mimeType,
			SizeBytes:        int64(len(data)),
			SHA256:           sha,
			ScanResult:       types.ScanQuarantined,
			ReceivedAt:       received,
			StoragePath:      storagePath,
			Status:           types.StatusQuarantined,
		},
		quarantine: &types.QuarantinedFile{FileID: mf.FileID, Reason: types.RejectMalwareDetected, Message: message},
	}, nil
}

// audit appends a chained audit event. Audit failures are logged, never
// propagated: losing an event must not fail an admission already made.
func (s *Service) audit(ctx context.Context, tenantID string, evType types.AuditEventType, resourceType, resourceID string, details map[string]any) {
	prev, err := s.meta.LatestAuditEventID(ctx, tenantID)
	if err != nil {
		s.logger.Error("audit chain lookup failed", map[string]any{"tenant_id": tenantID, "error": err.Error()})
		prev = ""
	}
	ev := &types.AuditEvent{
		EventID:         uuid.NewString(),
		TenantID:        tenantID,
		EventType:       evType,
		Timestamp:       s.now().UTC(),
		Actor:           "intake",
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		Details:         details,
		PreviousEventID: prev,
	}
	if err := s.meta.InsertAuditEvent(ctx, ev); err != nil {
		s.logger.Error("audit insert failed", map[string]any{"tenant_id": tenantID, "event_type": string(evType), "error": err.Error()})
	}
}

// mimeCompatible reports whether the declared MIME type agrees with the
// detected one. Markdown and CSV variants often detect as text/plain, so any
// text/* declaration is compatible with a text/* detection.
func mimeCompatible(declared string, sniffed *mimetype.MIME) bool {
	if declared == "" {
		return true
	}
	base := declared
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(strings.ToLower(base))
	if sniffed.Is(base) {
		return true
	}
	return strings.HasPrefix(base, "text/") && strings.HasPrefix(sniffed.String(), "text/")
}

func newReceiptID() string {
	return "rcp_" + uuid.NewString()
}
