package provision

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/secrets"
	"github.com/oxbow-systems/sluice/store"
	"github.com/oxbow-systems/sluice/types"
	"github.com/oxbow-systems/sluice/vector"
)

// calls records side effects in order so tests can assert rollback order.
type calls struct {
	log []string
}

func (c *calls) add(s string) { c.log = append(c.log, s) }

type fakeKeys struct {
	c       *calls
	sealErr error
}

func (f *fakeKeys) WriteKeypair(string, *secrets.Keypair) error {
	f.c.add("keys.write")
	return nil
}

func (f *fakeKeys) Seal(string, *secrets.Credentials) error {
	f.c.add("keys.seal")
	return f.sealErr
}

func (f *fakeKeys) Remove(string) error {
	f.c.add("keys.remove")
	return nil
}

type fakeBuckets struct {
	c         *calls
	createErr error
}

func (f *fakeBuckets) CreateBucket(_ context.Context, name string) error {
	f.c.add("bucket.create " + name)
	return f.createErr
}

func (f *fakeBuckets) DeleteBucket(_ context.Context, name string) error {
	f.c.add("bucket.delete " + name)
	return nil
}

type fakeDBs struct {
	c         *calls
	createErr error
}

func (f *fakeDBs) CreateTenantDatabase(_ context.Context, tenantID, password string) error {
	f.c.add("db.create " + tenantID)
	if password == "" {
		return errors.New("empty password")
	}
	return f.createErr
}

func (f *fakeDBs) DropTenantDatabase(_ context.Context, tenantID string) error {
	f.c.add("db.drop " + tenantID)
	return nil
}

type fakeVectors struct {
	c         *calls
	ensureErr error
	exists    bool
}

func (f *fakeVectors) EnsureCollection(_ context.Context, name string, dims int) error {
	f.c.add("vector.ensure " + name)
	if name == vector.TextCollection("acme") && dims != vector.TextDimensions {
		return errors.New("wrong text dims")
	}
	return f.ensureErr
}

func (f *fakeVectors) DropCollection(_ context.Context, name string) error {
	f.c.add("vector.drop " + name)
	return nil
}

func (f *fakeVectors) Exists(_ context.Context, name string) (bool, error) {
	f.c.add("vector.exists " + name)
	return f.exists, nil
}

type fakeACLs struct {
	c         *calls
	createErr error
}

func (f *fakeACLs) CreateUser(_ context.Context, tenantID, _ string) error {
	f.c.add("acl.create " + tenantID)
	return f.createErr
}

func (f *fakeACLs) DeleteUser(_ context.Context, tenantID string) error {
	f.c.add("acl.delete " + tenantID)
	return nil
}

type fakeRegistry struct {
	tenants map[string]*types.Tenant
	events  []*types.AuditEvent
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tenants: make(map[string]*types.Tenant)}
}

func (f *fakeRegistry) CreateTenant(_ context.Context, t *types.Tenant) error {
	if _, exists := f.tenants[t.TenantID]; !exists {
		f.tenants[t.TenantID] = t
	}
	return nil
}

func (f *fakeRegistry) GetTenant(_ context.Context, tenantID string) (*types.Tenant, error) {
	t, ok := f.tenants[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeRegistry) TransitionTenant(_ context.Context, tenantID string, to types.TenantState) error {
	t, ok := f.tenants[tenantID]
	if !ok {
		return store.ErrNotFound
	}
	if !types.CanTransition(t.State, to) {
		return errors.New("illegal transition")
	}
	t.State = to
	return nil
}

func (f *fakeRegistry) InsertAuditEvent(_ context.Context, ev *types.AuditEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRegistry) LatestAuditEventID(context.Context, string) (string, error) {
	if len(f.events) == 0 {
		return "", nil
	}
	return f.events[len(f.events)-1].EventID, nil
}

func (f *fakeRegistry) hasEvent(evType types.AuditEventType) bool {
	for _, ev := range f.events {
		if ev.EventType == evType {
			return true
		}
	}
	return false
}

type fixture struct {
	c        *calls
	keys     *fakeKeys
	buckets  *fakeBuckets
	dbs      *fakeDBs
	vectors  *fakeVectors
	acls     *fakeACLs
	registry *fakeRegistry
	p        *Provisioner
}

func newFixture() *fixture {
	c := &calls{}
	f := &fixture{
		c:        c,
		keys:     &fakeKeys{c: c},
		buckets:  &fakeBuckets{c: c},
		dbs:      &fakeDBs{c: c},
		vectors:  &fakeVectors{c: c, exists: true},
		acls:     &fakeACLs{c: c},
		registry: newFakeRegistry(),
	}
	logger := log.NewLogger("test").WithOutput(io.Discard)
	f.p = New(f.registry, f.keys, f.buckets, f.dbs, f.vectors, f.acls, logger)
	return f
}

func (f *fixture) pendingTenant(id string) {
	f.registry.tenants[id] = &types.Tenant{TenantID: id, State: types.TenantPending, Config: []byte(`{}`)}
}

func TestRegister(t *testing.T) {
	f := newFixture()
	if err := f.p.Register(context.Background(), "acme", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tenant := f.registry.tenants["acme"]
	if tenant == nil || tenant.State != types.TenantPending {
		t.Fatalf("tenant = %+v", tenant)
	}
	if !f.registry.hasEvent(types.EventTenantCreated) {
		t.Error("no TENANT_CREATED event")
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	f := newFixture()
	if err := f.p.Register(context.Background(), "bad tenant!", nil); err == nil {
		t.Error("invalid tenant id accepted")
	}
	if err := f.p.Register(context.Background(), "acme", []byte(`{"unknown_key": 1}`)); err == nil {
		t.Error("unknown config key accepted")
	}
}

func TestProvision(t *testing.T) {
	f := newFixture()
	f.pendingTenant("acme")

	if err := f.p.Provision(context.Background(), "acme"); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	want := []string{
		"keys.write",
		"keys.seal",
		"bucket.create tenant-acme",
		"db.create acme",
		"vector.ensure tenant_acme",
		"vector.ensure tenant_acme_images",
		"acl.create acme",
		"vector.exists tenant_acme",
	}
	if len(f.c.log) != len(want) {
		t.Fatalf("calls = %v", f.c.log)
	}
	for i, w := range want {
		if f.c.log[i] != w {
			t.Errorf("call %d = %q, want %q", i, f.c.log[i], w)
		}
	}
	if f.registry.tenants["acme"].State != types.TenantActive {
		t.Errorf("state = %s, want ACTIVE", f.registry.tenants["acme"].State)
	}
	if !f.registry.hasEvent(types.EventTenantProvisioned) {
		t.Error("no TENANT_PROVISIONED event")
	}
}

func TestProvisionRequiresPending(t *testing.T) {
	f := newFixture()
	f.registry.tenants["acme"] = &types.Tenant{TenantID: "acme", State: types.TenantActive}
	if err := f.p.Provision(context.Background(), "acme"); err == nil {
		t.Error("ACTIVE tenant reprovisioned")
	}
	if err := f.p.Provision(context.Background(), "ghost"); err == nil {
		t.Error("unknown tenant provisioned")
	}
	if len(f.c.log) != 0 {
		t.Errorf("stores were touched: %v", f.c.log)
	}
}

func TestProvisionRollsBackInReverse(t *testing.T) {
	f := newFixture()
	f.pendingTenant("acme")
	f.acls.createErr = errors.New("acl denied")

	if err := f.p.Provision(context.Background(), "acme"); err == nil {
		t.Fatal("expected provisioning failure")
	}

	want := []string{
		"keys.write",
		"keys.seal",
		"bucket.create tenant-acme",
		"db.create acme",
		"vector.ensure tenant_acme",
		"vector.ensure tenant_acme_images",
		"acl.create acme",
		// Rollback, reverse order.
		"vector.drop tenant_acme_images",
		"vector.drop tenant_acme",
		"db.drop acme",
		"bucket.delete tenant-acme",
		"keys.remove",
	}
	if len(f.c.log) != len(want) {
		t.Fatalf("calls = %v", f.c.log)
	}
	for i, w := range want {
		if f.c.log[i] != w {
			t.Errorf("call %d = %q, want %q", i, f.c.log[i], w)
		}
	}
	if f.registry.tenants["acme"].State != types.TenantPending {
		t.Errorf("state = %s, want PENDING after rollback", f.registry.tenants["acme"].State)
	}
	if f.registry.hasEvent(types.EventTenantProvisioned) {
		t.Error("TENANT_PROVISIONED emitted for failed run")
	}
}

func TestProvisionEarlyFailureLeavesNothing(t *testing.T) {
	f := newFixture()
	f.pendingTenant("acme")
	f.keys.sealErr = errors.New("disk full")

	if err := f.p.Provision(context.Background(), "acme"); err == nil {
		t.Fatal("expected provisioning failure")
	}
	// The failing step is not in the completed list, so nothing is undone.
	want := []string{"keys.write", "keys.seal"}
	if len(f.c.log) != len(want) {
		t.Fatalf("calls = %v", f.c.log)
	}
}

func TestProvisionVerifyFailure(t *testing.T) {
	f := newFixture()
	f.pendingTenant("acme")
	f.vectors.exists = false

	if err := f.p.Provision(context.Background(), "acme"); err == nil {
		t.Fatal("expected verification failure")
	}
	last := f.c.log[len(f.c.log)-1]
	if last != "keys.remove" {
		t.Errorf("rollback did not finish: %v", f.c.log)
	}
	if f.registry.tenants["acme"].State != types.TenantPending {
		t.Errorf("state = %s after failed verify", f.registry.tenants["acme"].State)
	}
}

func TestDeprovision(t *testing.T) {
	f := newFixture()
	f.registry.tenants["acme"] = &types.Tenant{TenantID: "acme", State: types.TenantActive}

	if err := f.p.Deprovision(context.Background(), "acme"); err != nil {
		t.Fatalf("Deprovision: %v", err)
	}
	want := []string{
		"acl.delete acme",
		"vector.drop tenant_acme_images",
		"vector.drop tenant_acme",
		"db.drop acme",
		"bucket.delete tenant-acme",
		"keys.remove",
	}
	for i, w := range want {
		if f.c.log[i] != w {
			t.Errorf("call %d = %q, want %q", i, f.c.log[i], w)
		}
	}
	if f.registry.tenants["acme"].State != types.TenantDeleted {
		t.Errorf("state = %s, want DELETED", f.registry.tenants["acme"].State)
	}
	if !f.registry.hasEvent(types.EventTenantDeprovisioned) {
		t.Error("no TENANT_DEPROVISIONED event")
	}
}

func TestDeprovisionDeletedTenantIsNoop(t *testing.T) {
	f := newFixture()
	f.registry.tenants["acme"] = &types.Tenant{TenantID: "acme", State: types.TenantDeleted}
	if err := f.p.Deprovision(context.Background(), "acme"); err != nil {
		t.Fatalf("Deprovision: %v", err)
	}
	if len(f.c.log) != 0 {
		t.Errorf("stores were touched: %v", f.c.log)
	}
}

func TestNames(t *testing.T) {
	if got := BucketName("Acme_Corp"); got != "tenant-acme-corp" {
		t.Errorf("BucketName = %q", got)
	}
	if got := pgIdent("acme-corp"); got != "tenant_acme_corp" {
		t.Errorf("pgIdent = %q", got)
	}
	if got := aclUser("acme"); got != "tenant_acme" {
		t.Errorf("aclUser = %q", got)
	}
}
