package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/oxbow-systems/sluice/blob"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/scan"
	"github.com/oxbow-systems/sluice/store"
	"github.com/oxbow-systems/sluice/types"
)

type fakeBlobs struct {
	objects map[string][]byte
	err     error
}

func (f *fakeBlobs) Put(_ context.Context, key string, body []byte, _ string) error {
	if f.err != nil {
		return f.err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = body
	return nil
}

type fakeMeta struct {
	tenant   *types.Tenant
	batches  []*types.BatchStatus
	receipts []*types.IntakeReceipt
	docs     map[string]*types.Document
	events   []*types.AuditEvent
}

func (f *fakeMeta) GetTenant(_ context.Context, tenantID string) (*types.Tenant, error) {
	if f.tenant == nil || f.tenant.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return f.tenant, nil
}

func (f *fakeMeta) PutBatch(_ context.Context, b *types.BatchStatus) error {
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeMeta) PutReceipt(_ context.Context, r *types.IntakeReceipt) error {
	f.receipts = append(f.receipts, r)
	return nil
}

func (f *fakeMeta) UpsertDocument(_ context.Context, d *types.Document) error {
	if f.docs == nil {
		f.docs = make(map[string]*types.Document)
	}
	f.docs[d.DocID] = d
	return nil
}

func (f *fakeMeta) InsertAuditEvent(_ context.Context, ev *types.AuditEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeMeta) LatestAuditEventID(_ context.Context, _ string) (string, error) {
	if len(f.events) == 0 {
		return "", nil
	}
	return f.events[len(f.events)-1].EventID, nil
}

func (f *fakeMeta) eventTypes() []types.AuditEventType {
	out := make([]types.AuditEventType, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fakeQueue struct {
	jobs map[string][]any
}

func (f *fakeQueue) Enqueue(_ context.Context, key string, job any) error {
	if f.jobs == nil {
		f.jobs = make(map[string][]any)
	}
	f.jobs[key] = append(f.jobs[key], job)
	return nil
}

type fakeBus struct{ messages []string }

func (f *fakeBus) Stage(_ context.Context, _, message, _, _, _ string) {
	f.messages = append(f.messages, message)
}

type fakeScanner struct {
	result scan.Result
	err    error
}

func (f *fakeScanner) Scan(context.Context, []byte) (scan.Result, error) {
	return f.result, f.err
}

func shaHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func activeTenant(id string) *types.Tenant {
	return &types.Tenant{TenantID: id, State: types.TenantActive, Config: []byte(`{}`)}
}

func manifestFor(tenantID string, files ...types.ManifestFile) *types.BatchManifest {
	return &types.BatchManifest{
		BatchID:   "batch-1",
		TenantID:  tenantID,
		FileCount: len(files),
		Files:     files,
	}
}

func entry(fileID, filename, mimeType string, data []byte) types.ManifestFile {
	return types.ManifestFile{
		FileID:    fileID,
		Filename:  filename,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		SHA256:    shaHex(data),
	}
}

func newTestService(meta *fakeMeta, blobs *fakeBlobs, jobs *fakeQueue, opts Options) *Service {
	logger := log.NewLogger("test").WithOutput(io.Discard)
	return New(blobs, meta, jobs, &fakeBus{}, logger, opts)
}

func TestProcessBatchAcceptsTextFile(t *testing.T) {
	data := []byte("Plain text body for admission.")
	meta := &fakeMeta{tenant: activeTenant("acme")}
	blobs := &fakeBlobs{}
	jobs := &fakeQueue{}
	svc := newTestService(meta, blobs, jobs, Options{})

	mf := entry("f-1", "notes.txt", "text/plain", data)
	resp, err := svc.ProcessBatch(context.Background(), "acme", manifestFor("acme", mf), [][]byte{data})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Accepted != 1 || resp.Rejected != 0 || resp.Quarantined != 0 {
		t.Fatalf("counts = %d/%d/%d, want 1/0/0", resp.Accepted, resp.Rejected, resp.Quarantined)
	}

	wantPath := blob.RawPath("acme", "f-1", mf.SHA256)
	if _, ok := blobs.objects[wantPath]; !ok {
		t.Errorf("raw object not stored at %s", wantPath)
	}

	parseKey := queue.Key("acme", queue.StageParse)
	if len(jobs.jobs[parseKey]) != 1 {
		t.Fatalf("parse jobs = %d, want 1", len(jobs.jobs[parseKey]))
	}
	job := jobs.jobs[parseKey][0].(*types.ParseJob)
	if job.FileID != "f-1" || job.StoragePath != wantPath || job.SHA256 != mf.SHA256 {
		t.Errorf("parse job = %+v", job)
	}

	doc, ok := meta.docs[types.DocID("f-1")]
	if !ok || doc.Status != types.DocIngested {
		t.Errorf("document row = %+v, want ingested", doc)
	}
	if len(meta.receipts) != 1 || meta.receipts[0].Status != types.StatusAccepted {
		t.Fatalf("receipts = %+v", meta.receipts)
	}
	if meta.receipts[0].ScanResult != types.ScanSkipped {
		t.Errorf("scan result = %s, want skipped with no scanner", meta.receipts[0].ScanResult)
	}
	if !strings.HasPrefix(meta.receipts[0].MimeType, "text/plain") {
		t.Errorf("receipt mime = %q, want sniffed text/plain", meta.receipts[0].MimeType)
	}
}

func TestProcessBatchMissingUploadSlot(t *testing.T) {
	data := []byte("present file")
	meta := &fakeMeta{tenant: activeTenant("acme")}
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{})

	m := manifestFor("acme",
		entry("f-1", "a.txt", "text/plain", data),
		entry("f-2", "b.txt", "text/plain", []byte("never uploaded")),
	)
	resp, err := svc.ProcessBatch(context.Background(), "acme", m, [][]byte{data})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Fatalf("counts = %d/%d, want 1 accepted 1 rejected", resp.Accepted, resp.Rejected)
	}
	rej := resp.RejectedFiles[0]
	if rej.FileID != "f-2" || rej.Reason != types.RejectChecksumMismatch {
		t.Errorf("rejection = %+v, want f-2 CHECKSUM_MISMATCH", rej)
	}
	if !strings.Contains(rej.Message, "not found in upload") {
		t.Errorf("message = %q", rej.Message)
	}
}

func TestProcessBatchSizeGate(t *testing.T) {
	meta := &fakeMeta{tenant: activeTenant("acme")}
	meta.tenant.Config = []byte(`{"max_file_size_mb": 1}`)
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{})

	data := make([]byte, 1024*1024+1)
	resp, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", entry("f-1", "big.txt", "text/plain", data)), [][]byte{data})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Rejected != 1 || resp.RejectedFiles[0].Reason != types.RejectSizeExceeded {
		t.Fatalf("response = %+v, want SIZE_EXCEEDED", resp.RejectedFiles)
	}
}

func TestProcessBatchChecksumGate(t *testing.T) {
	meta := &fakeMeta{tenant: activeTenant("acme")}
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{})

	mf := entry("f-1", "a.txt", "text/plain", []byte("declared content"))
	resp, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", mf), [][]byte{[]byte("tampered content")})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Rejected != 1 || resp.RejectedFiles[0].Reason != types.RejectChecksumMismatch {
		t.Fatalf("response = %+v, want CHECKSUM_MISMATCH", resp.RejectedFiles)
	}
	if len(meta.eventTypes()) < 2 || meta.eventTypes()[1] != types.EventDocumentRejected {
		t.Errorf("events = %v, want DOCUMENT_REJECTED after BATCH_RECEIVED", meta.eventTypes())
	}
}

func TestProcessBatchMimeAllowlist(t *testing.T) {
	// Zip archives are not on the default allowlist.
	zip := []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00\x00\x00\x00\x00")
	meta := &fakeMeta{tenant: activeTenant("acme")}
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{})

	resp, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", entry("f-1", "bundle.zip", "application/zip", zip)), [][]byte{zip})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Rejected != 1 || resp.RejectedFiles[0].Reason != types.RejectUnsupportedFormat {
		t.Fatalf("response = %+v, want UNSUPPORTED_FORMAT", resp.RejectedFiles)
	}
}

func TestProcessBatchMimeGateCoversAllModalities(t *testing.T) {
	// Executable bytes under an image filename: the extension routes to the
	// multimodal queue, but the allowlist still decides admission.
	exe := []byte("MZ\x90\x00\x03\x00\x00\x00\x04\x00\x00\x00\xff\xff\x00\x00")
	meta := &fakeMeta{tenant: activeTenant("acme")}
	jobs := &fakeQueue{}
	svc := newTestService(meta, &fakeBlobs{}, jobs, Options{})

	resp, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", entry("f-1", "x.png", "image/png", exe)), [][]byte{exe})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Rejected != 1 || resp.RejectedFiles[0].Reason != types.RejectUnsupportedFormat {
		t.Fatalf("response = %+v, want UNSUPPORTED_FORMAT", resp.RejectedFiles)
	}
	if len(jobs.jobs) != 0 {
		t.Error("rejected file reached a queue")
	}
}

func TestProcessBatchMetadataSchema(t *testing.T) {
	data := []byte("body with custom metadata attached")
	meta := &fakeMeta{tenant: activeTenant("acme")}
	meta.tenant.Config = []byte(`{"metadata_schema": {
		"type": "object",
		"required": ["department"],
		"properties": {"department": {"type": "string"}}
	}}`)
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{})

	good := entry("f-1", "a.txt", "text/plain", data)
	good.Metadata = map[string]any{"department": "finance"}
	bad := entry("f-2", "b.txt", "text/plain", data)

	resp, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", good, bad), [][]byte{data, data})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Fatalf("counts = %d/%d, want 1 accepted 1 rejected", resp.Accepted, resp.Rejected)
	}
	rej := resp.RejectedFiles[0]
	if rej.FileID != "f-2" || rej.Reason != types.RejectMetadataInvalid {
		t.Errorf("rejection = %+v, want f-2 METADATA_INVALID", rej)
	}
}

func TestProcessBatchMimeSpoofing(t *testing.T) {
	// Declared PDF, actual plain text: the declared type must match content.
	data := []byte("just some text pretending to be a pdf")
	meta := &fakeMeta{tenant: activeTenant("acme")}
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{})

	resp, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", entry("f-1", "fake.txt", "application/pdf", data)), [][]byte{data})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Rejected != 1 || resp.RejectedFiles[0].Reason != types.RejectUnsupportedFormat {
		t.Fatalf("response = %+v, want UNSUPPORTED_FORMAT", resp.RejectedFiles)
	}
}

func TestProcessBatchQuarantinesInfected(t *testing.T) {
	data := []byte("malicious payload text")
	meta := &fakeMeta{tenant: activeTenant("acme")}
	blobs := &fakeBlobs{}
	jobs := &fakeQueue{}
	scanner := &fakeScanner{result: scan.Result{Status: scan.StatusInfected, Signature: "Eicar-Test"}}
	svc := newTestService(meta, blobs, jobs, Options{Scanner: scanner})

	mf := entry("f-1", "bad.txt", "text/plain", data)
	resp, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", mf), [][]byte{data})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Quarantined != 1 || resp.Accepted != 0 {
		t.Fatalf("counts = %+v", resp)
	}
	q := resp.QuarantinedFiles[0]
	if q.Reason != types.RejectMalwareDetected || !strings.Contains(q.Message, "Eicar-Test") {
		t.Errorf("quarantine entry = %+v", q)
	}
	if _, ok := blobs.objects[blob.QuarantinePath("acme", "f-1", mf.SHA256)]; !ok {
		t.Error("quarantined content not preserved")
	}
	if len(jobs.jobs) != 0 {
		t.Error("quarantined file entered the pipeline")
	}
	if doc := meta.docs[types.DocID("f-1")]; doc == nil || doc.Status != types.DocQuarantined {
		t.Errorf("document row = %+v, want quarantined", doc)
	}
}

func TestProcessBatchScannerUnreachable(t *testing.T) {
	data := []byte("clean enough text")
	scanner := &fakeScanner{err: errors.New("dial tcp: connection refused")}

	t.Run("optional scan admits as skipped", func(t *testing.T) {
		meta := &fakeMeta{tenant: activeTenant("acme")}
		svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{Scanner: scanner})
		resp, err := svc.ProcessBatch(context.Background(), "acme",
			manifestFor("acme", entry("f-1", "a.txt", "text/plain", data)), [][]byte{data})
		if err != nil {
			t.Fatalf("ProcessBatch: %v", err)
		}
		if resp.Accepted != 1 {
			t.Fatalf("response = %+v, want accepted", resp)
		}
		if meta.receipts[0].ScanResult != types.ScanSkipped {
			t.Errorf("scan result = %s, want skipped", meta.receipts[0].ScanResult)
		}
	})

	t.Run("required scan rejects", func(t *testing.T) {
		meta := &fakeMeta{tenant: activeTenant("acme")}
		svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{Scanner: scanner, ScanRequired: true})
		resp, err := svc.ProcessBatch(context.Background(), "acme",
			manifestFor("acme", entry("f-1", "a.txt", "text/plain", data)), [][]byte{data})
		if err != nil {
			t.Fatalf("ProcessBatch: %v", err)
		}
		if resp.Rejected != 1 || resp.RejectedFiles[0].Reason != types.RejectScanUnavailable {
			t.Fatalf("response = %+v, want MALWARE_SCAN_UNAVAILABLE", resp.RejectedFiles)
		}
	})
}

func TestProcessBatchRoutesMultimodal(t *testing.T) {
	// PNG is on the default allowlist; the image extension routes it to the
	// multimodal queue instead of the parse queue.
	png := []byte("\x89PNG\r\n\x1a\n0000000000000000")
	meta := &fakeMeta{tenant: activeTenant("acme")}
	jobs := &fakeQueue{}
	svc := newTestService(meta, &fakeBlobs{}, jobs, Options{})

	resp, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", entry("f-1", "photo.png", "image/png", png)), [][]byte{png})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Accepted != 1 {
		t.Fatalf("response = %+v, want accepted", resp)
	}
	if len(jobs.jobs[queue.MultimodalKey]) != 1 {
		t.Fatalf("multimodal jobs = %d, want 1", len(jobs.jobs[queue.MultimodalKey]))
	}
	job := jobs.jobs[queue.MultimodalKey][0].(*types.MultimodalJob)
	if job.DocumentID != types.DocID("f-1") || job.Filename != "photo.png" {
		t.Errorf("multimodal job = %+v", job)
	}
	if doc := meta.docs[types.DocID("f-1")]; doc == nil || doc.Status != types.DocProcessing {
		t.Errorf("document row = %+v, want processing", doc)
	}
}

func TestProcessBatchTenantNotFound(t *testing.T) {
	svc := newTestService(&fakeMeta{}, &fakeBlobs{}, &fakeQueue{}, Options{})
	_, err := svc.ProcessBatch(context.Background(), "ghost",
		manifestFor("ghost", entry("f-1", "a.txt", "text/plain", []byte("x"))), [][]byte{[]byte("x")})
	var apiErr *types.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Fatalf("error = %v, want 404 APIError", err)
	}
}

func TestProcessBatchInactiveTenant(t *testing.T) {
	meta := &fakeMeta{tenant: &types.Tenant{TenantID: "acme", State: types.TenantSuspended, Config: []byte(`{}`)}}
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{})
	_, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", entry("f-1", "a.txt", "text/plain", []byte("x"))), [][]byte{[]byte("x")})
	var apiErr *types.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Fatalf("error = %v, want 404 APIError for suspended tenant", err)
	}
}

func TestProcessBatchManifestInvalid(t *testing.T) {
	meta := &fakeMeta{tenant: activeTenant("acme")}
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{})

	m := manifestFor("acme", entry("f-1", "a.txt", "text/plain", []byte("x")))
	m.FileCount = 5
	_, err := svc.ProcessBatch(context.Background(), "acme", m, [][]byte{[]byte("x")})
	var apiErr *types.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != types.CodeFileCountMismatch {
		t.Fatalf("error = %v, want MANIFEST_FILE_COUNT_MISMATCH", err)
	}
}

func TestProcessBatchPartialSuccess(t *testing.T) {
	good1 := []byte("first good file")
	good2 := []byte("second good file")
	bad := entry("f-2", "bad.txt", "text/plain", []byte("declared"))

	meta := &fakeMeta{tenant: activeTenant("acme")}
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{})
	m := manifestFor("acme",
		entry("f-1", "a.txt", "text/plain", good1),
		bad,
		entry("f-3", "c.txt", "text/plain", good2),
	)
	resp, err := svc.ProcessBatch(context.Background(), "acme", m,
		[][]byte{good1, []byte("tampered"), good2})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if resp.Accepted != 2 || resp.Rejected != 1 {
		t.Fatalf("counts = %d/%d, want 2 accepted 1 rejected", resp.Accepted, resp.Rejected)
	}
	if len(resp.Receipts) != 3 {
		t.Errorf("receipts = %d, want one per file regardless of outcome", len(resp.Receipts))
	}
	if len(meta.batches) != 1 || meta.batches[0].Accepted != 2 || meta.batches[0].Rejected != 1 {
		t.Errorf("batch summary = %+v", meta.batches)
	}
}

func TestProcessBatchAuditChain(t *testing.T) {
	data := []byte("chained audit content")
	meta := &fakeMeta{tenant: activeTenant("acme")}
	svc := newTestService(meta, &fakeBlobs{}, &fakeQueue{}, Options{
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	_, err := svc.ProcessBatch(context.Background(), "acme",
		manifestFor("acme", entry("f-1", "a.txt", "text/plain", data)), [][]byte{data})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	evs := meta.events
	if len(evs) != 2 {
		t.Fatalf("events = %d, want BATCH_RECEIVED then DOCUMENT_INGESTED", len(evs))
	}
	if evs[0].EventType != types.EventBatchReceived || evs[1].EventType != types.EventDocumentIngested {
		t.Errorf("event order = %v", meta.eventTypes())
	}
	if evs[0].PreviousEventID != "" {
		t.Errorf("first event has previous id %q", evs[0].PreviousEventID)
	}
	if evs[1].PreviousEventID != evs[0].EventID {
		t.Errorf("chain broken: %q != %q", evs[1].PreviousEventID, evs[0].EventID)
	}
}
