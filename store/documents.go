package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oxbow-systems/sluice/types"
)

// UpsertDocument creates or refreshes a document status row. Called by the
// intake gateway when a file is admitted and by workers as stages complete.
func (s *Store) UpsertDocument(ctx context.Context, d *types.Document) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO documents (tenant_id, doc_id, file_id, batch_id, filename, sha256, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (tenant_id, doc_id) DO UPDATE SET
			status = EXCLUDED.status,
			sha256 = EXCLUDED.sha256,
			updated_at = now()`,
		d.TenantID, d.DocID, d.FileID, d.BatchID, d.Filename, d.SHA256, d.Status)
	if err != nil {
		return fmt.Errorf("store: upsert document: %w", err)
	}
	return nil
}

// SetDocumentStatus updates a document's pipeline status.
func (s *Store) SetDocumentStatus(ctx context.Context, tenantID, docID string, status types.DocumentStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = now()
		 WHERE tenant_id = $2 AND doc_id = $3`,
		status, tenantID, docID)
	if err != nil {
		return fmt.Errorf("store: set document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s/%s", ErrNotFound, tenantID, docID)
	}
	return nil
}

// GetDocument loads a document status row.
func (s *Store) GetDocument(ctx context.Context, tenantID, docID string) (*types.Document, error) {
	var d types.Document
	err := s.db.QueryRow(ctx,
		`SELECT tenant_id, doc_id, file_id, batch_id, filename, sha256, status
		 FROM documents WHERE tenant_id = $1 AND doc_id = $2`,
		tenantID, docID).Scan(&d.TenantID, &d.DocID, &d.FileID, &d.BatchID,
		&d.Filename, &d.SHA256, &d.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: document %s/%s", ErrNotFound, tenantID, docID)
		}
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	return &d, nil
}

// DocumentSHA256 returns the recorded raw checksum for a document, or
// ErrNotFound. The parse worker uses it to detect reparse-identical inputs.
func (s *Store) DocumentSHA256(ctx context.Context, tenantID, docID string) (string, error) {
	var sha string
	err := s.db.QueryRow(ctx,
		`SELECT sha256 FROM documents WHERE tenant_id = $1 AND doc_id = $2`,
		tenantID, docID).Scan(&sha)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: document %s/%s", ErrNotFound, tenantID, docID)
		}
		return "", fmt.Errorf("store: document sha256: %w", err)
	}
	return sha, nil
}
