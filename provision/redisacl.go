package provision

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisACL manages per-tenant cache users. Each user is restricted to the
// tenant's key pattern tenant:{id}:* so a leaked credential cannot read
// another tenant's queues.
type RedisACL struct {
	client *goredis.Client
}

// NewRedisACL wraps an admin Redis connection.
func NewRedisACL(client *goredis.Client) *RedisACL {
	return &RedisACL{client: client}
}

var _ ACLs = (*RedisACL)(nil)

func aclUser(tenantID string) string { return "tenant_" + tenantID }

// CreateUser creates (or replaces) the tenant's ACL user.
func (a *RedisACL) CreateUser(ctx context.Context, tenantID, password string) error {
	err := a.client.Do(ctx, "ACL", "SETUSER", aclUser(tenantID),
		"on", ">"+password, "~tenant:"+tenantID+":*", "+@all").Err()
	if err != nil {
		return fmt.Errorf("provision: create cache user for %s: %w", tenantID, err)
	}
	return nil
}

// DeleteUser removes the tenant's ACL user.
func (a *RedisACL) DeleteUser(ctx context.Context, tenantID string) error {
	if err := a.client.Do(ctx, "ACL", "DELUSER", aclUser(tenantID)).Err(); err != nil {
		return fmt.Errorf("provision: delete cache user for %s: %w", tenantID, err)
	}
	return nil
}
