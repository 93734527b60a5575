package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BucketName maps a tenant id onto the S3 bucket naming rules (lowercase,
// hyphens only).
func BucketName(tenantID string) string {
	return "tenant-" + strings.ToLower(strings.ReplaceAll(tenantID, "_", "-"))
}

// pgIdent maps a tenant id onto the Postgres identifier charset, shared by
// the database and role names.
func pgIdent(tenantID string) string {
	return "tenant_" + strings.ToLower(strings.ReplaceAll(tenantID, "-", "_"))
}

// Execer is the admin query surface. Satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Execer = (*pgxpool.Pool)(nil)

// PGAdmin creates and drops per-tenant databases and roles. It must be
// connected as a superuser (or CREATEDB/CREATEROLE) to the admin database.
type PGAdmin struct {
	db Execer
}

// NewPGAdmin wraps an admin connection.
func NewPGAdmin(db Execer) *PGAdmin {
	return &PGAdmin{db: db}
}

var _ Databases = (*PGAdmin)(nil)

// CreateTenantDatabase creates the tenant's role and database and revokes
// PUBLIC connect so only the tenant role can reach it. Identifiers cannot be
// bound as parameters; tenant ids are restricted to [A-Za-z0-9_-] before
// this runs, and pgIdent folds them to [a-z0-9_].
func (a *PGAdmin) CreateTenantDatabase(ctx context.Context, tenantID, password string) error {
	ident := pgIdent(tenantID)
	stmts := []string{
		fmt.Sprintf(`CREATE ROLE %s LOGIN PASSWORD '%s'`, ident, strings.ReplaceAll(password, "'", "''")),
		fmt.Sprintf(`CREATE DATABASE %s OWNER %s`, ident, ident),
		fmt.Sprintf(`REVOKE CONNECT ON DATABASE %s FROM PUBLIC`, ident),
		fmt.Sprintf(`GRANT CONNECT ON DATABASE %s TO %s`, ident, ident),
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision: %s database: %w", ident, err)
		}
	}
	return nil
}

// DropTenantDatabase removes the tenant's database and role.
func (a *PGAdmin) DropTenantDatabase(ctx context.Context, tenantID string) error {
	ident := pgIdent(tenantID)
	stmts := []string{
		fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, ident),
		fmt.Sprintf(`DROP ROLE IF EXISTS %s`, ident),
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision: drop %s database: %w", ident, err)
		}
	}
	return nil
}
