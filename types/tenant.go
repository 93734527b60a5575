// Package types defines the core domain types for the sluice pipeline:
// tenants, batch manifests, intake receipts, canonical structured documents,
// policy-enriched chunks, queue jobs, and audit events.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"regexp"
	"time"
)

// TenantState is the tenant lifecycle state.
type TenantState string

// Tenant lifecycle states. Transitions are forward-only:
// PENDING -> ACTIVE -> SUSPENDED -> DELETED.
const (
	TenantPending   TenantState = "PENDING"
	TenantActive    TenantState = "ACTIVE"
	TenantSuspended TenantState = "SUSPENDED"
	TenantDeleted   TenantState = "DELETED"
)

var tenantIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateTenantID checks the tenant id character set (alphanumeric plus
// hyphen and underscore).
func ValidateTenantID(id string) error {
	if id == "" {
		return fmt.Errorf("tenant id must be non-empty")
	}
	if !tenantIDRe.MatchString(id) {
		return fmt.Errorf("tenant id %q contains invalid characters", id)
	}
	return nil
}

// Tenant is a registry record. Config is the raw JSON config bag; its
// recognized keys are validated by package tenantconf before any write.
type Tenant struct {
	TenantID      string      `json:"tenant_id"`
	State         TenantState `json:"state"`
	Config        []byte      `json:"-"`
	ConfigVersion int         `json:"config_version"`
	CreatedAt     time.Time   `json:"created_at"`
}

// CanTransition reports whether the lifecycle transition from -> to is legal.
func CanTransition(from, to TenantState) bool {
	switch from {
	case TenantPending:
		return to == TenantActive || to == TenantDeleted
	case TenantActive:
		return to == TenantSuspended || to == TenantDeleted
	case TenantSuspended:
		return to == TenantActive || to == TenantDeleted
	default:
		return false
	}
}
