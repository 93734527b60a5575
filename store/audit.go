package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oxbow-systems/sluice/types"
)

// InsertAuditEvent appends an audit event. Insertion is idempotent on
// event_id: replaying the same event is a no-op, never a duplicate row.
func (s *Store) InsertAuditEvent(ctx context.Context, ev *types.AuditEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("store: audit event invalid: %w", err)
	}
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	body, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("store: encode audit details: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_events
			(event_id, tenant_id, event_type, ts, actor, resource_type, resource_id, details, previous_event_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.TenantID, ev.EventType, ev.Timestamp, ev.Actor,
		ev.ResourceType, ev.ResourceID, body, ev.PreviousEventID)
	if err != nil {
		return fmt.Errorf("store: insert audit event: %w", err)
	}
	return nil
}

// LatestAuditEventID returns the most recent event id for a tenant, or empty
// when the tenant has no events. Used to build the per-tenant causal chain.
func (s *Store) LatestAuditEventID(ctx context.Context, tenantID string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`SELECT event_id FROM audit_events WHERE tenant_id = $1
		 ORDER BY ts DESC, event_id DESC LIMIT 1`,
		tenantID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("store: latest audit event: %w", err)
	}
	return id, nil
}

// AuditTrail returns all events for a resource within a tenant, in timestamp
// order.
func (s *Store) AuditTrail(ctx context.Context, tenantID, resourceType, resourceID string) ([]types.AuditEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT event_id, tenant_id, event_type, ts, actor, resource_type, resource_id, details, previous_event_id
		 FROM audit_events
		 WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3
		 ORDER BY ts, event_id`,
		tenantID, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("store: audit trail: %w", err)
	}
	defer rows.Close()

	var events []types.AuditEvent
	for rows.Next() {
		var ev types.AuditEvent
		var details []byte
		if err := rows.Scan(&ev.EventID, &ev.TenantID, &ev.EventType, &ev.Timestamp,
			&ev.Actor, &ev.ResourceType, &ev.ResourceID, &details, &ev.PreviousEventID); err != nil {
			return nil, fmt.Errorf("store: scan audit event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("store: decode audit details: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
