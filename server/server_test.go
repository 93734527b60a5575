package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oxbow-systems/sluice/auth"
	"github.com/oxbow-systems/sluice/embed"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/metrics"
	"github.com/oxbow-systems/sluice/multimodal"
	"github.com/oxbow-systems/sluice/store"
	"github.com/oxbow-systems/sluice/types"
	"github.com/oxbow-systems/sluice/vector"
)

type fakeIntake struct {
	gotTenant   string
	gotManifest *types.BatchManifest
	gotUploads  [][]byte
	resp        *types.BatchReceiptResponse
	err         error
}

func (f *fakeIntake) ProcessBatch(_ context.Context, tenantID string, manifest *types.BatchManifest, uploads [][]byte) (*types.BatchReceiptResponse, error) {
	f.gotTenant = tenantID
	f.gotManifest = manifest
	f.gotUploads = uploads
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &types.BatchReceiptResponse{BatchID: manifest.BatchID, TenantID: tenantID}, nil
}

type fakeMeta struct {
	batches  map[string]*types.BatchStatus
	receipts map[string]*types.IntakeReceipt
	docs     map[string]*types.Document
	trail    []types.AuditEvent
	pingErr  error
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		batches:  make(map[string]*types.BatchStatus),
		receipts: make(map[string]*types.IntakeReceipt),
		docs:     make(map[string]*types.Document),
	}
}

func (f *fakeMeta) GetBatch(_ context.Context, tenantID, batchID string) (*types.BatchStatus, error) {
	b, ok := f.batches[tenantID+"/"+batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeMeta) GetReceipt(_ context.Context, tenantID, receiptID string) (*types.IntakeReceipt, error) {
	r, ok := f.receipts[tenantID+"/"+receiptID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeMeta) GetDocument(_ context.Context, tenantID, docID string) (*types.Document, error) {
	d, ok := f.docs[tenantID+"/"+docID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeMeta) AuditTrail(context.Context, string, string, string) ([]types.AuditEvent, error) {
	return f.trail, nil
}

func (f *fakeMeta) Ping(context.Context) error { return f.pingErr }

type fakeSearch struct {
	gotName  string
	gotQuery []float32
	gotLimit int
	matches  []vector.Match
	err      error
}

func (f *fakeSearch) Search(_ context.Context, name string, query []float32, limit int) ([]vector.Match, error) {
	f.gotName = name
	f.gotQuery = query
	f.gotLimit = limit
	return f.matches, f.err
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) { return f.allowed, f.err }

type fakeEvents struct {
	ch  chan types.ProgressEvent
	err error
}

func (f *fakeEvents) Subscribe(context.Context) (<-chan types.ProgressEvent, error) {
	return f.ch, f.err
}

type deps struct {
	intake   *fakeIntake
	meta     *fakeMeta
	search   *fakeSearch
	limiter  *fakeLimiter
	events   *fakeEvents
	verifier *auth.Verifier
	metrics  *metrics.Metrics
}

func newTestDeps() *deps {
	return &deps{
		intake:   &fakeIntake{},
		meta:     newFakeMeta(),
		search:   &fakeSearch{},
		limiter:  &fakeLimiter{allowed: true},
		events:   &fakeEvents{ch: make(chan types.ProgressEvent, 4)},
		verifier: auth.New("", true),
	}
}

func (d *deps) router() http.Handler {
	vec := NewVectorizer(embed.NewStub(embed.TextDimensions),
		multimodal.NewStubVisual(vector.ImageDimensions), multimodal.StubTranscriber{})
	logger := log.NewLogger("test").WithOutput(io.Discard)
	return New(d.intake, d.meta, d.search, d.limiter, d.events,
		vec, d.verifier, d.metrics, logger, nil).Router()
}

func errorCode(t *testing.T, body []byte) types.ErrorCode {
	t.Helper()
	var wrapper struct {
		Error types.APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return wrapper.Error.Code
}

func batchRequest(t *testing.T, tenantID string, manifest any, files ...string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if manifest != nil {
		fw, err := w.CreateFormField("manifest")
		if err != nil {
			t.Fatalf("manifest part: %v", err)
		}
		if err := json.NewEncoder(fw).Encode(manifest); err != nil {
			t.Fatalf("encode manifest: %v", err)
		}
	}
	for i, content := range files {
		fw, err := w.CreateFormFile("files", "file-"+string(rune('a'+i)))
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, "/ingest/"+tenantID+"/batch", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestBatchSubmit(t *testing.T) {
	d := newTestDeps()
	router := d.router()

	manifest := &types.BatchManifest{
		BatchID:   "b-1",
		TenantID:  "acme",
		FileCount: 2,
		Files: []types.ManifestFile{
			{FileID: "f-1", Filename: "one.txt"},
			{FileID: "f-2", Filename: "two.txt"},
		},
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, batchRequest(t, "acme", manifest, "one", "two"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if d.intake.gotTenant != "acme" || d.intake.gotManifest.BatchID != "b-1" {
		t.Errorf("intake got tenant=%q manifest=%+v", d.intake.gotTenant, d.intake.gotManifest)
	}
	if len(d.intake.gotUploads) != 2 || string(d.intake.gotUploads[0]) != "one" || string(d.intake.gotUploads[1]) != "two" {
		t.Errorf("uploads lost their order: %q", d.intake.gotUploads)
	}
	var resp types.BatchReceiptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.BatchID != "b-1" {
		t.Errorf("response = %s (err %v)", rec.Body.String(), err)
	}
}

func TestBatchSubmitRateLimited(t *testing.T) {
	d := newTestDeps()
	d.limiter.allowed = false
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, batchRequest(t, "acme", &types.BatchManifest{BatchID: "b-1", TenantID: "acme"}))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != types.CodeRateLimitExceeded {
		t.Errorf("code = %s", code)
	}
	if d.intake.gotManifest != nil {
		t.Error("rate-limited request reached intake")
	}
}

func TestBatchSubmitMissingManifest(t *testing.T) {
	d := newTestDeps()
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, batchRequest(t, "acme", nil, "content"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != types.CodeManifestInvalid {
		t.Errorf("code = %s", code)
	}
}

func TestBatchSubmitValidationError(t *testing.T) {
	d := newTestDeps()
	d.intake.err = types.NewAPIError(http.StatusBadRequest,
		types.CodeFileCountMismatch, "file_count 5 does not match files length 1")
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, batchRequest(t, "acme",
		&types.BatchManifest{BatchID: "b-1", TenantID: "acme", FileCount: 5}, "x"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != types.CodeFileCountMismatch {
		t.Errorf("code = %s", code)
	}
}

func TestBatchStatusLookup(t *testing.T) {
	d := newTestDeps()
	d.meta.batches["acme/b-1"] = &types.BatchStatus{
		BatchID: "b-1", TenantID: "acme", FileCount: 3, Accepted: 2,
		Rejected: 1, SubmittedAt: time.Now().UTC(),
	}
	router := d.router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/acme/batch/b-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var b types.BatchStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil || b.Accepted != 2 {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/acme/batch/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing batch status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != types.CodeResourceNotFound {
		t.Errorf("code = %s", code)
	}
}

func TestReceiptLookup(t *testing.T) {
	d := newTestDeps()
	d.meta.receipts["acme/rcp-1"] = &types.IntakeReceipt{
		ReceiptID: "rcp-1", TenantID: "acme", FileID: "f-1", Status: types.StatusAccepted,
	}
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/acme/receipt/rcp-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var r types.IntakeReceipt
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil || r.FileID != "f-1" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func queryJSON(t *testing.T, collection string, body any) *http.Request {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode query: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/collections/"+collection+"/query", bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestQueryByVector(t *testing.T) {
	d := newTestDeps()
	d.search.matches = []vector.Match{
		{ChunkID: "chk_1", DocID: "doc_1", Score: 0.93, Payload: map[string]any{"text": "hit"}},
	}
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, queryJSON(t, "tenant_acme",
		map[string]any{"vector": []float32{0.1, 0.2, 0.3}, "limit": 5}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if d.search.gotName != "tenant_acme" || d.search.gotLimit != 5 || len(d.search.gotQuery) != 3 {
		t.Errorf("search got name=%q limit=%d query=%v", d.search.gotName, d.search.gotLimit, d.search.gotQuery)
	}
	var resp struct {
		Count int        `json:"count"`
		Hits  []queryHit `json:"hits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || resp.Hits[0].ChunkID != "chk_1" || resp.Hits[0].Score != 0.93 {
		t.Errorf("response = %+v", resp)
	}
}

func TestQueryDefaultLimit(t *testing.T) {
	d := newTestDeps()
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, queryJSON(t, "tenant_acme", map[string]any{"vector": []float32{1}}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if d.search.gotLimit != defaultQueryLimit {
		t.Errorf("limit = %d, want %d", d.search.gotLimit, defaultQueryLimit)
	}
}

func TestQueryEmptyBody(t *testing.T) {
	d := newTestDeps()
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, queryJSON(t, "tenant_acme", map[string]any{}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQueryUnknownCollection(t *testing.T) {
	d := newTestDeps()
	d.search.err = vector.ErrNoCollection
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, queryJSON(t, "tenant_ghost", map[string]any{"vector": []float32{1}}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != types.CodeResourceNotFound {
		t.Errorf("code = %s", code)
	}
}

func TestQueryDimensionMismatch(t *testing.T) {
	d := newTestDeps()
	d.search.err = vector.ErrDimensionMismatch
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, queryJSON(t, "tenant_acme", map[string]any{"vector": []float32{1, 2}}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != types.CodeDimensionMismatch {
		t.Errorf("code = %s", code)
	}
}

func queryFileRequest(t *testing.T, collection, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("query_file", filename)
	if err != nil {
		t.Fatalf("query_file part: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write query_file: %v", err)
	}
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, "/collections/"+collection+"/query", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestQueryByImageFile(t *testing.T) {
	d := newTestDeps()
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, queryFileRequest(t, "tenant_acme_images", "photo.png", []byte("image bytes")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(d.search.gotQuery) != vector.ImageDimensions {
		t.Errorf("query dims = %d, want %d", len(d.search.gotQuery), vector.ImageDimensions)
	}
}

func TestQueryByAudioFile(t *testing.T) {
	d := newTestDeps()
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, queryFileRequest(t, "tenant_acme", "meeting.mp3", []byte("audio bytes")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(d.search.gotQuery) != embed.TextDimensions {
		t.Errorf("query dims = %d, want %d", len(d.search.gotQuery), embed.TextDimensions)
	}
}

func TestQueryByUnsupportedFile(t *testing.T) {
	d := newTestDeps()
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, queryFileRequest(t, "tenant_acme", "notes.txt", []byte("text")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != types.CodeUnsupportedQueryFile {
		t.Errorf("code = %s", code)
	}
}

func TestTenantIsolation(t *testing.T) {
	d := newTestDeps()
	d.verifier = auth.New("test-secret", false)
	router := d.router()

	token, err := d.verifier.Sign(&auth.Claims{TenantID: "acme", Scopes: []string{auth.ScopeIngest}})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	authed := func(req *http.Request) *http.Request {
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	// No token at all.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/acme/batch/b-1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", rec.Code)
	}

	// Another tenant's ingest state.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/ingest/globex/batch/b-1", nil)))
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-tenant batch status = %d", rec.Code)
	}

	// Another tenant's collection.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(queryJSON(t, "tenant_globex", map[string]any{"vector": []float32{1}})))
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-tenant query status = %d", rec.Code)
	}

	// The token's own collection works.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(queryJSON(t, "tenant_acme", map[string]any{"vector": []float32{1}})))
	if rec.Code != http.StatusOK {
		t.Errorf("own-tenant query status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestEventsStream(t *testing.T) {
	d := newTestDeps()
	d.events.ch <- types.ProgressEvent{Stage: "parse", Message: "parsed report.txt", Level: "info"}
	close(d.events.ch)

	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.Contains(body, `"stage":"parse"`) {
		t.Errorf("body = %q", body)
	}
}

func TestHealth(t *testing.T) {
	d := newTestDeps()
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	d.meta.pingErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	d.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	d := newTestDeps()
	d.metrics = metrics.New()
	rec := httptest.NewRecorder()
	d.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
