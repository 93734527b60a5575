// Package provision creates and tears down per-tenant storage across the
// four stores: object bucket, relational database and role, vector
// collections, and cache ACL user.
//
// Provisioning is atomic: any step failure rolls back every completed step
// in reverse order, so partial provisioning is never left behind. Plaintext
// credentials exist only in memory during the run; at rest they live in the
// tenant's sealed vault file.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oxbow-systems/sluice/blob"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/secrets"
	"github.com/oxbow-systems/sluice/store"
	"github.com/oxbow-systems/sluice/tenantconf"
	"github.com/oxbow-systems/sluice/types"
	"github.com/oxbow-systems/sluice/vector"
)

// Keys is the secret-material surface.
type Keys interface {
	WriteKeypair(tenantID string, kp *secrets.Keypair) error
	Seal(tenantID string, creds *secrets.Credentials) error
	Remove(tenantID string) error
}

// Buckets manages object-store buckets.
type Buckets interface {
	CreateBucket(ctx context.Context, name string) error
	DeleteBucket(ctx context.Context, name string) error
}

// Databases manages per-tenant relational databases and roles.
type Databases interface {
	CreateTenantDatabase(ctx context.Context, tenantID, password string) error
	DropTenantDatabase(ctx context.Context, tenantID string) error
}

// Vectors manages vector collections.
type Vectors interface {
	EnsureCollection(ctx context.Context, name string, dims int) error
	DropCollection(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// ACLs manages cache users restricted to the tenant's key namespace.
type ACLs interface {
	CreateUser(ctx context.Context, tenantID, password string) error
	DeleteUser(ctx context.Context, tenantID string) error
}

// Registry is the control-plane surface.
type Registry interface {
	CreateTenant(ctx context.Context, t *types.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error)
	TransitionTenant(ctx context.Context, tenantID string, to types.TenantState) error
	InsertAuditEvent(ctx context.Context, ev *types.AuditEvent) error
	LatestAuditEventID(ctx context.Context, tenantID string) (string, error)
}

var (
	_ Keys     = (*secrets.Vault)(nil)
	_ Buckets  = (*blob.Store)(nil)
	_ Vectors  = (*vector.Store)(nil)
	_ Registry = (*store.Store)(nil)
)

// Provisioner orchestrates tenant storage lifecycle.
type Provisioner struct {
	registry Registry
	keys     Keys
	buckets  Buckets
	dbs      Databases
	vectors  Vectors
	acls     ACLs
	logger   *log.Logger
}

// New builds a provisioner.
func New(registry Registry, keys Keys, buckets Buckets, dbs Databases, vectors Vectors, acls ACLs, logger *log.Logger) *Provisioner {
	return &Provisioner{
		registry: registry,
		keys:     keys,
		buckets:  buckets,
		dbs:      dbs,
		vectors:  vectors,
		acls:     acls,
		logger:   logger,
	}
}

// Register creates a PENDING tenant record with a validated config bag and
// emits TENANT_CREATED. Creation is idempotent.
func (p *Provisioner) Register(ctx context.Context, tenantID string, config []byte) error {
	if err := types.ValidateTenantID(tenantID); err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	if len(config) == 0 {
		config = []byte("{}")
	}
	if _, err := tenantconf.Parse(config); err != nil {
		return fmt.Errorf("provision: tenant config: %w", err)
	}
	if err := p.registry.CreateTenant(ctx, &types.Tenant{
		TenantID:      tenantID,
		State:         types.TenantPending,
		Config:        config,
		ConfigVersion: 1,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("provision: create tenant: %w", err)
	}
	p.audit(ctx, tenantID, types.EventTenantCreated, nil)
	return nil
}

// step is one provisioning action and its inverse.
type step struct {
	name string
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// Provision builds the tenant's storage. The tenant must exist and be
// PENDING; success transitions it to ACTIVE and emits TENANT_PROVISIONED.
func (p *Provisioner) Provision(ctx context.Context, tenantID string) error {
	tenant, err := p.registry.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("provision: load tenant %s: %w", tenantID, err)
	}
	if tenant.State != types.TenantPending {
		return fmt.Errorf("provision: tenant %s is %s, want %s", tenantID, tenant.State, types.TenantPending)
	}

	kp, err := secrets.GenerateKeypair()
	if err != nil {
		return err
	}
	creds, err := secrets.GenerateCredentials()
	if err != nil {
		return err
	}

	bucket := BucketName(tenantID)
	textColl := vector.TextCollection(tenantID)
	imageColl := vector.ImageCollection(tenantID)

	steps := []step{
		{
			name: "secrets",
			do: func(ctx context.Context) error {
				if err := p.keys.WriteKeypair(tenantID, kp); err != nil {
					return err
				}
				return p.keys.Seal(tenantID, creds)
			},
			undo: func(context.Context) error { return p.keys.Remove(tenantID) },
		},
		{
			name: "bucket",
			do:   func(ctx context.Context) error { return p.buckets.CreateBucket(ctx, bucket) },
			undo: func(ctx context.Context) error { return p.buckets.DeleteBucket(ctx, bucket) },
		},
		{
			name: "database",
			do:   func(ctx context.Context) error { return p.dbs.CreateTenantDatabase(ctx, tenantID, creds.DBPassword) },
			undo: func(ctx context.Context) error { return p.dbs.DropTenantDatabase(ctx, tenantID) },
		},
		{
			name: "vector collections",
			do: func(ctx context.Context) error {
				if err := p.vectors.EnsureCollection(ctx, textColl, vector.TextDimensions); err != nil {
					return err
				}
				return p.vectors.EnsureCollection(ctx, imageColl, vector.ImageDimensions)
			},
			undo: func(ctx context.Context) error {
				return errors.Join(
					p.vectors.DropCollection(ctx, imageColl),
					p.vectors.DropCollection(ctx, textColl),
				)
			},
		},
		{
			name: "cache acl",
			do:   func(ctx context.Context) error { return p.acls.CreateUser(ctx, tenantID, creds.RedisPassword) },
			undo: func(ctx context.Context) error { return p.acls.DeleteUser(ctx, tenantID) },
		},
		{
			name: "verify",
			do: func(ctx context.Context) error {
				ok, err := p.vectors.Exists(ctx, textColl)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("collection %s not retrievable after creation", textColl)
				}
				return nil
			},
		},
	}

	var completed []step
	for _, st := range steps {
		if err := st.do(ctx); err != nil {
			p.logger.Error("provisioning step failed", map[string]any{
				"tenant_id": tenantID, "step": st.name, "error": err.Error(),
			})
			p.rollback(ctx, tenantID, completed)
			return fmt.Errorf("provision: %s for tenant %s: %w", st.name, tenantID, err)
		}
		completed = append(completed, st)
	}

	if err := p.registry.TransitionTenant(ctx, tenantID, types.TenantActive); err != nil {
		p.rollback(ctx, tenantID, completed)
		return fmt.Errorf("provision: activate tenant %s: %w", tenantID, err)
	}
	p.audit(ctx, tenantID, types.EventTenantProvisioned, map[string]any{
		"bucket":      bucket,
		"collections": []string{textColl, imageColl},
	})
	p.logger.Info("tenant provisioned", map[string]any{"tenant_id": tenantID})
	return nil
}

// rollback undoes completed steps in reverse. Undo failures are logged and
// do not stop the remaining undos.
func (p *Provisioner) rollback(ctx context.Context, tenantID string, completed []step) {
	for i := len(completed) - 1; i >= 0; i-- {
		st := completed[i]
		if st.undo == nil {
			continue
		}
		if err := st.undo(ctx); err != nil {
			p.logger.Error("rollback step failed", map[string]any{
				"tenant_id": tenantID, "step": st.name, "error": err.Error(),
			})
		}
	}
}

// Deprovision tears the tenant's storage down and transitions it to
// DELETED. Teardown is best-effort: every store is attempted and failures
// are joined into one error.
func (p *Provisioner) Deprovision(ctx context.Context, tenantID string) error {
	tenant, err := p.registry.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("provision: load tenant %s: %w", tenantID, err)
	}
	if tenant.State == types.TenantDeleted {
		return nil
	}

	errs := errors.Join(
		p.acls.DeleteUser(ctx, tenantID),
		p.vectors.DropCollection(ctx, vector.ImageCollection(tenantID)),
		p.vectors.DropCollection(ctx, vector.TextCollection(tenantID)),
		p.dbs.DropTenantDatabase(ctx, tenantID),
		p.buckets.DeleteBucket(ctx, BucketName(tenantID)),
		p.keys.Remove(tenantID),
	)
	if errs != nil {
		return fmt.Errorf("provision: deprovision tenant %s: %w", tenantID, errs)
	}

	if err := p.registry.TransitionTenant(ctx, tenantID, types.TenantDeleted); err != nil {
		return fmt.Errorf("provision: delete tenant %s: %w", tenantID, err)
	}
	p.audit(ctx, tenantID, types.EventTenantDeprovisioned, nil)
	return nil
}

// audit appends a chained tenant lifecycle event. Failures are logged,
// never propagated.
func (p *Provisioner) audit(ctx context.Context, tenantID string, evType types.AuditEventType, details map[string]any) {
	prev, err := p.registry.LatestAuditEventID(ctx, tenantID)
	if err != nil {
		p.logger.Error("audit chain lookup failed", map[string]any{"tenant_id": tenantID, "error": err.Error()})
		prev = ""
	}
	ev := &types.AuditEvent{
		EventID:         uuid.NewString(),
		TenantID:        tenantID,
		EventType:       evType,
		Timestamp:       time.Now().UTC(),
		Actor:           "provisioner",
		ResourceType:    "tenant",
		ResourceID:      tenantID,
		Details:         details,
		PreviousEventID: prev,
	}
	if err := p.registry.InsertAuditEvent(ctx, ev); err != nil {
		p.logger.Error("audit insert failed", map[string]any{
			"tenant_id": tenantID, "event_type": string(evType), "error": err.Error(),
		})
	}
}
