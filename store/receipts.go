package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oxbow-systems/sluice/types"
)

// PutReceipt persists an immutable intake receipt. Receipts are written once
// at admission and never updated; duplicate ids return ErrAlreadyExists.
func (s *Store) PutReceipt(ctx context.Context, r *types.IntakeReceipt) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO intake_receipts
			(receipt_id, tenant_id, batch_id, file_id, original_filename,
			 mime_type, size_bytes, sha256, scan_result, received_at, storage_path, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ReceiptID, r.TenantID, r.BatchID, r.FileID, r.OriginalFilename,
		r.MimeType, r.SizeBytes, r.SHA256, r.ScanResult, r.ReceivedAt, r.StoragePath, r.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: receipt %s", ErrAlreadyExists, r.ReceiptID)
		}
		return fmt.Errorf("store: put receipt: %w", err)
	}
	return nil
}

// GetReceipt loads a receipt by id within a tenant.
func (s *Store) GetReceipt(ctx context.Context, tenantID, receiptID string) (*types.IntakeReceipt, error) {
	var r types.IntakeReceipt
	err := s.db.QueryRow(ctx,
		`SELECT receipt_id, tenant_id, batch_id, file_id, original_filename,
			mime_type, size_bytes, sha256, scan_result, received_at, storage_path, status
		 FROM intake_receipts WHERE tenant_id = $1 AND receipt_id = $2`,
		tenantID, receiptID).Scan(&r.ReceiptID, &r.TenantID, &r.BatchID, &r.FileID,
		&r.OriginalFilename, &r.MimeType, &r.SizeBytes, &r.SHA256, &r.ScanResult,
		&r.ReceivedAt, &r.StoragePath, &r.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: receipt %s/%s", ErrNotFound, tenantID, receiptID)
		}
		return nil, fmt.Errorf("store: get receipt: %w", err)
	}
	return &r, nil
}

// ListBatchReceipts returns all receipts for a batch in admission order.
func (s *Store) ListBatchReceipts(ctx context.Context, tenantID, batchID string) ([]types.IntakeReceipt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT receipt_id, tenant_id, batch_id, file_id, original_filename,
			mime_type, size_bytes, sha256, scan_result, received_at, storage_path, status
		 FROM intake_receipts WHERE tenant_id = $1 AND batch_id = $2
		 ORDER BY received_at, receipt_id`,
		tenantID, batchID)
	if err != nil {
		return nil, fmt.Errorf("store: list batch receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.IntakeReceipt
	for rows.Next() {
		var r types.IntakeReceipt
		if err := rows.Scan(&r.ReceiptID, &r.TenantID, &r.BatchID, &r.FileID,
			&r.OriginalFilename, &r.MimeType, &r.SizeBytes, &r.SHA256, &r.ScanResult,
			&r.ReceivedAt, &r.StoragePath, &r.Status); err != nil {
			return nil, fmt.Errorf("store: scan receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}
