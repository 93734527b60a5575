// Package vector stores and searches chunk embeddings in Postgres with the
// pgvector extension.
//
// Isolation is structural: each tenant gets its own tables. Text embeddings
// (768-d) live in tenant_{id}; image and frame embeddings (512-d) live in
// tenant_{id}_images. Every collection's dimension is locked at creation in
// a registry table, and every write asserts against it. A wrong-length
// vector is rejected, never padded or truncated.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Embedding dimensions. Text embeddings are 768-d; visual embeddings 512-d.
const (
	TextDimensions  = 768
	ImageDimensions = 512
)

// Typed vector-store failures.
var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrNoCollection      = errors.New("collection does not exist")
)

var collectionRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// TextCollection returns the text embedding collection name for a tenant.
func TextCollection(tenantID string) string {
	return "tenant_" + normalizeIdent(tenantID)
}

// ImageCollection returns the visual embedding collection name for a tenant.
func ImageCollection(tenantID string) string {
	return TextCollection(tenantID) + "_images"
}

// normalizeIdent maps a tenant id onto the Postgres identifier charset.
// Tenant ids allow hyphens and mixed case; identifiers do not.
func normalizeIdent(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", "_"))
}

// validCollection guards every SQL statement that interpolates a table name.
func validCollection(name string) error {
	if name == "" || !collectionRe.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

// PointID folds a chunk id into a stable non-negative 63-bit point id:
// the first 15 hex digits of SHA-256(chunk_id).
func PointID(chunkID string) int64 {
	sum := sha256.Sum256([]byte(chunkID))
	id, _ := strconv.ParseInt(hex.EncodeToString(sum[:])[:15], 16, 64)
	return id
}

// Point is one embedding row. Payload carries the chunk's policy and
// provenance metadata for retrieval-time display.
type Point struct {
	ID      int64
	ChunkID string
	DocID   string
	Vector  []float32
	Payload map[string]any
}

// Match is one search result, scored by cosine similarity.
type Match struct {
	ChunkID string
	DocID   string
	Score   float64
	Payload map[string]any
}

// DB is the query surface the store needs. Satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the vector store handle. Safe for concurrent use.
type Store struct {
	db DB

	pool *pgxpool.Pool
}

// New connects to the vector database and ensures the pgvector extension
// and the collection registry exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("vector: connect: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an existing query surface. The caller runs init via
// EnsureCollection as needed and owns the connection lifecycle.
func NewFromDB(db DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS vector_collections (
			name TEXT PRIMARY KEY,
			dims INT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("vector: init: %w", err)
		}
	}
	return nil
}

// EnsureCollection creates a collection with the given dimension, locking
// the dimension in the registry. Recreating with the same dimension is a
// no-op; recreating with a different one returns ErrDimensionMismatch.
func (s *Store) EnsureCollection(ctx context.Context, name string, dims int) error {
	if err := validCollection(name); err != nil {
		return err
	}
	if dims <= 0 {
		return fmt.Errorf("vector: dimension must be positive, got %d", dims)
	}
	if err := s.init(ctx); err != nil {
		return err
	}

	existing, err := s.registeredDims(ctx, name)
	if err == nil && existing != dims {
		return fmt.Errorf("%w: collection %s is locked to %d, got %d",
			ErrDimensionMismatch, name, existing, dims)
	}
	if err != nil && !errors.Is(err, ErrNoCollection) {
		return err
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id       BIGINT PRIMARY KEY,
			chunk_id TEXT NOT NULL,
			doc_id   TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			payload  JSONB NOT NULL DEFAULT '{}'
		)`, name, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx
			ON %s USING hnsw (embedding vector_cosine_ops)`, name, name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_doc_idx ON %s (doc_id)`, name, name),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("vector: create collection %s: %w", name, err)
		}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO vector_collections (name, dims) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`,
		name, dims)
	if err != nil {
		return fmt.Errorf("vector: register collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) registeredDims(ctx context.Context, name string) (int, error) {
	var dims int
	err := s.db.QueryRow(ctx,
		`SELECT dims FROM vector_collections WHERE name = $1`, name).Scan(&dims)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrNoCollection, name)
		}
		return 0, fmt.Errorf("vector: registered dims for %s: %w", name, err)
	}
	return dims, nil
}

// Exists reports whether a collection is registered.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.registeredDims(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNoCollection) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Count returns the number of points in a collection.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	if err := validCollection(name); err != nil {
		return 0, err
	}
	if _, err := s.registeredDims(ctx, name); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("vector: count %s: %w", name, err)
	}
	return n, nil
}

// Upsert writes points into a collection. Every vector's length is asserted
// against the collection's locked dimension before any row is written.
func (s *Store) Upsert(ctx context.Context, name string, points []Point) error {
	if err := validCollection(name); err != nil {
		return err
	}
	dims, err := s.registeredDims(ctx, name)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != dims {
			return fmt.Errorf("%w: collection %s expects %d, chunk %s has %d",
				ErrDimensionMismatch, name, dims, p.ChunkID, len(p.Vector))
		}
	}

	stmt := fmt.Sprintf(
		`INSERT INTO %s (id, chunk_id, doc_id, embedding, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			chunk_id = EXCLUDED.chunk_id,
			doc_id = EXCLUDED.doc_id,
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload`, name)
	for _, p := range points {
		payload := p.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("vector: encode payload for %s: %w", p.ChunkID, err)
		}
		if _, err := s.db.Exec(ctx, stmt,
			p.ID, p.ChunkID, p.DocID, pgvector.NewVector(p.Vector), body); err != nil {
			return fmt.Errorf("vector: upsert into %s: %w", name, err)
		}
	}
	return nil
}

// Search returns the limit nearest points by cosine similarity.
func (s *Store) Search(ctx context.Context, name string, query []float32, limit int) ([]Match, error) {
	if err := validCollection(name); err != nil {
		return nil, err
	}
	dims, err := s.registeredDims(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(query) != dims {
		return nil, fmt.Errorf("%w: collection %s expects %d, query has %d",
			ErrDimensionMismatch, name, dims, len(query))
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT chunk_id, doc_id, 1 - (embedding <=> $1) AS score, payload
		 FROM %s ORDER BY embedding <=> $1 LIMIT $2`, name),
		pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("vector: search %s: %w", name, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var payload []byte
		if err := rows.Scan(&m.ChunkID, &m.DocID, &m.Score, &payload); err != nil {
			return nil, fmt.Errorf("vector: scan match: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &m.Payload); err != nil {
				return nil, fmt.Errorf("vector: decode payload: %w", err)
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteByDoc removes all points belonging to a document. Used when a
// reparse invalidates previously indexed chunks.
func (s *Store) DeleteByDoc(ctx context.Context, name, docID string) error {
	if err := validCollection(name); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE doc_id = $1`, name), docID); err != nil {
		return fmt.Errorf("vector: delete by doc in %s: %w", name, err)
	}
	return nil
}

// DropCollection removes a collection and its registry entry. Used by
// deprovisioning and by provisioning rollback.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if err := validCollection(name); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)); err != nil {
		return fmt.Errorf("vector: drop collection %s: %w", name, err)
	}
	if _, err := s.db.Exec(ctx,
		`DELETE FROM vector_collections WHERE name = $1`, name); err != nil {
		return fmt.Errorf("vector: deregister collection %s: %w", name, err)
	}
	return nil
}
