package vector

// Search and upsert tests need a Postgres instance with the pgvector
// extension. Set SLUICE_TEST_VECTOR_DB to enable them.

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestCollectionNames(t *testing.T) {
	tests := []struct {
		tenantID   string
		text, imgs string
	}{
		{"acme", "tenant_acme", "tenant_acme_images"},
		{"Acme-Corp", "tenant_acme_corp", "tenant_acme_corp_images"},
		{"t_01", "tenant_t_01", "tenant_t_01_images"},
	}
	for _, tt := range tests {
		if got := TextCollection(tt.tenantID); got != tt.text {
			t.Errorf("TextCollection(%q) = %q, want %q", tt.tenantID, got, tt.text)
		}
		if got := ImageCollection(tt.tenantID); got != tt.imgs {
			t.Errorf("ImageCollection(%q) = %q, want %q", tt.tenantID, got, tt.imgs)
		}
	}
}

func TestValidCollectionRejectsInjection(t *testing.T) {
	for _, name := range []string{"", "tenant_a; DROP TABLE x", "tenant a", "Tenant_A", `tenant_"a"`} {
		if err := validCollection(name); err == nil {
			t.Errorf("validCollection(%q) accepted", name)
		}
	}
	if err := validCollection("tenant_acme_images"); err != nil {
		t.Errorf("validCollection rejected a valid name: %v", err)
	}
}

func TestPointIDStableAndNonNegative(t *testing.T) {
	a := PointID("chk_abc123def456")
	b := PointID("chk_abc123def456")
	if a != b {
		t.Errorf("PointID not deterministic: %d != %d", a, b)
	}
	if a < 0 {
		t.Errorf("PointID negative: %d", a)
	}
	if a == PointID("chk_other") {
		t.Error("distinct chunk ids folded to the same point id")
	}
}

func newTestVectorStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SLUICE_TEST_VECTOR_DB")
	if dsn == "" {
		t.Skip("SLUICE_TEST_VECTOR_DB not set")
	}
	s, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testCollection(t *testing.T, s *Store, dims int) string {
	t.Helper()
	name := TextCollection("test-" + uuid.NewString()[:8])
	if err := s.EnsureCollection(context.Background(), name, dims); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	t.Cleanup(func() {
		_ = s.DropCollection(context.Background(), name)
	})
	return name
}

func TestDimensionLock(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()
	name := testCollection(t, s, 4)

	// Re-ensuring with the same dimension is a no-op.
	if err := s.EnsureCollection(ctx, name, 4); err != nil {
		t.Errorf("EnsureCollection same dims: %v", err)
	}
	// A different dimension is refused.
	if err := s.EnsureCollection(ctx, name, 8); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("EnsureCollection new dims error = %v, want ErrDimensionMismatch", err)
	}

	// Writes assert the locked dimension.
	err := s.Upsert(ctx, name, []Point{{
		ID: 1, ChunkID: "chk_1", DocID: "doc_1", Vector: []float32{1, 2, 3},
	}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Upsert wrong dims error = %v, want ErrDimensionMismatch", err)
	}
}

func TestUpsertAndSearch(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()
	name := testCollection(t, s, 4)

	points := []Point{
		{ID: PointID("chk_a"), ChunkID: "chk_a", DocID: "doc_1",
			Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"classification": "contract"}},
		{ID: PointID("chk_b"), ChunkID: "chk_b", DocID: "doc_1",
			Vector: []float32{0, 1, 0, 0}},
		{ID: PointID("chk_c"), ChunkID: "chk_c", DocID: "doc_2",
			Vector: []float32{0.9, 0.1, 0, 0}},
	}
	if err := s.Upsert(ctx, name, points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := s.Count(ctx, name)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	matches, err := s.Search(ctx, name, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].ChunkID != "chk_a" {
		t.Errorf("top match = %s, want chk_a", matches[0].ChunkID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not ordered by score")
	}
	if matches[0].Payload["classification"] != "contract" {
		t.Errorf("payload roundtrip mismatch: %+v", matches[0].Payload)
	}

	// Upsert with the same point id replaces, not duplicates.
	points[0].Payload = map[string]any{"classification": "invoice"}
	if err := s.Upsert(ctx, name, points[:1]); err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}
	if n, _ := s.Count(ctx, name); n != 3 {
		t.Errorf("Count after re-upsert = %d, want 3", n)
	}
}

func TestDeleteByDoc(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()
	name := testCollection(t, s, 4)

	points := []Point{
		{ID: 1, ChunkID: "chk_a", DocID: "doc_1", Vector: []float32{1, 0, 0, 0}},
		{ID: 2, ChunkID: "chk_b", DocID: "doc_2", Vector: []float32{0, 1, 0, 0}},
	}
	if err := s.Upsert(ctx, name, points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.DeleteByDoc(ctx, name, "doc_1"); err != nil {
		t.Fatalf("DeleteByDoc: %v", err)
	}
	n, err := s.Count(ctx, name)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestSearchUnknownCollection(t *testing.T) {
	s := newTestVectorStore(t)
	_, err := s.Search(context.Background(), "tenant_missing", []float32{1}, 5)
	if !errors.Is(err, ErrNoCollection) {
		t.Errorf("Search error = %v, want ErrNoCollection", err)
	}
}
