package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oxbow-systems/sluice/types"
)

// PutBatch persists the admission summary for a batch. Re-submitting the
// same (tenant, batch) overwrites the summary, keeping GETs idempotent.
func (s *Store) PutBatch(ctx context.Context, b *types.BatchStatus) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO batches (tenant_id, batch_id, file_count, accepted, rejected, quarantined, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, batch_id) DO UPDATE SET
			file_count = EXCLUDED.file_count,
			accepted = EXCLUDED.accepted,
			rejected = EXCLUDED.rejected,
			quarantined = EXCLUDED.quarantined`,
		b.TenantID, b.BatchID, b.FileCount, b.Accepted, b.Rejected, b.Quarantined, b.SubmittedAt)
	if err != nil {
		return fmt.Errorf("store: put batch: %w", err)
	}
	return nil
}

// GetBatch loads a batch admission summary. Returns ErrNotFound for unknown
// (tenant, batch) pairs.
func (s *Store) GetBatch(ctx context.Context, tenantID, batchID string) (*types.BatchStatus, error) {
	var b types.BatchStatus
	err := s.db.QueryRow(ctx,
		`SELECT tenant_id, batch_id, file_count, accepted, rejected, quarantined, submitted_at
		 FROM batches WHERE tenant_id = $1 AND batch_id = $2`,
		tenantID, batchID).Scan(&b.TenantID, &b.BatchID, &b.FileCount,
		&b.Accepted, &b.Rejected, &b.Quarantined, &b.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: batch %s/%s", ErrNotFound, tenantID, batchID)
		}
		return nil, fmt.Errorf("store: get batch: %w", err)
	}
	return &b, nil
}
