package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oxbow-systems/sluice/types"
)

// CreateTenant inserts a new tenant registry record. Returns
// ErrAlreadyExists if the tenant id is taken.
func (s *Store) CreateTenant(ctx context.Context, t *types.Tenant) error {
	if err := types.ValidateTenantID(t.TenantID); err != nil {
		return err
	}
	config := t.Config
	if len(config) == 0 {
		config = []byte("{}")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO tenants (tenant_id, state, config, config_version, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		t.TenantID, t.State, config, max(t.ConfigVersion, 1))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: tenant %s", ErrAlreadyExists, t.TenantID)
		}
		return fmt.Errorf("store: create tenant: %w", err)
	}
	return nil
}

// GetTenant loads a tenant record. Returns ErrNotFound for unknown ids.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error) {
	var t types.Tenant
	err := s.db.QueryRow(ctx,
		`SELECT tenant_id, state, config, config_version, created_at
		 FROM tenants WHERE tenant_id = $1`,
		tenantID).Scan(&t.TenantID, &t.State, &t.Config, &t.ConfigVersion, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: tenant %s", ErrNotFound, tenantID)
		}
		return nil, fmt.Errorf("store: get tenant: %w", err)
	}
	return &t, nil
}

// ListActiveTenants returns the ids of all ACTIVE tenants. Workers poll this
// to build their queue key set.
func (s *Store) ListActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT tenant_id FROM tenants WHERE state = $1 ORDER BY tenant_id`,
		types.TenantActive)
	if err != nil {
		return nil, fmt.Errorf("store: list active tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TransitionTenant moves a tenant to a new lifecycle state. Illegal
// transitions fail; a concurrent state change returns ErrConflict.
func (s *Store) TransitionTenant(ctx context.Context, tenantID string, to types.TenantState) error {
	t, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if !types.CanTransition(t.State, to) {
		return fmt.Errorf("store: illegal tenant transition %s -> %s", t.State, to)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE tenants SET state = $1 WHERE tenant_id = $2 AND state = $3`,
		to, tenantID, t.State)
	if err != nil {
		return fmt.Errorf("store: transition tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tenant %s", ErrConflict, tenantID)
	}
	return nil
}

// UpdateTenantConfig replaces the tenant's config bag and bumps its version.
// The caller validates the bag (package tenantconf) before calling.
func (s *Store) UpdateTenantConfig(ctx context.Context, tenantID string, config []byte) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tenants SET config = $1, config_version = config_version + 1
		 WHERE tenant_id = $2`,
		config, tenantID)
	if err != nil {
		return fmt.Errorf("store: update tenant config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tenant %s", ErrNotFound, tenantID)
	}
	return nil
}
