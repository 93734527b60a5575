// Package secrets manages per-tenant credential material.
//
// Each tenant gets an X25519 keypair and a sealed credentials file under
// {root}/{tenant_id}/. Credentials are sealed with NaCl anonymous box, so
// possession of the sealed file alone reveals nothing; opening requires the
// tenant's private key. Files never hold plaintext credentials at rest.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/box"
	"gopkg.in/yaml.v3"
)

// Vault file names under {root}/{tenant_id}/.
const (
	publicKeyFile  = "key.pub"
	privateKeyFile = "key"
	sealedFile     = "secrets.enc.yaml"
)

// ErrNoSecrets is returned when a tenant has no provisioned material.
var ErrNoSecrets = errors.New("no secrets provisioned")

// Credentials are the per-tenant service credentials minted at provisioning.
type Credentials struct {
	S3AccessKey   string `yaml:"s3_access_key"`
	S3SecretKey   string `yaml:"s3_secret_key"`
	DBPassword    string `yaml:"db_password"`
	RedisPassword string `yaml:"redis_password"`
}

// GenerateCredentials mints fresh random credentials.
func GenerateCredentials() (*Credentials, error) {
	values := make([]string, 4)
	for i := range values {
		v, err := randomToken(32)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &Credentials{
		S3AccessKey:   values[0],
		S3SecretKey:   values[1],
		DBPassword:    values[2],
		RedisPassword: values[3],
	}, nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secrets: random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Keypair is a tenant's X25519 sealing keypair.
type Keypair struct {
	Public  *[32]byte
	Private *[32]byte
}

// GenerateKeypair creates a fresh keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("secrets: generate keypair: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// Vault is a filesystem-backed secrets store rooted at one directory.
type Vault struct {
	root string
}

// NewVault creates a vault rooted at root. The directory is created on
// first write.
func NewVault(root string) *Vault {
	return &Vault{root: root}
}

func (v *Vault) tenantDir(tenantID string) string {
	return filepath.Join(v.root, tenantID)
}

// WriteKeypair persists a tenant's keypair. The private key file is 0600.
func (v *Vault) WriteKeypair(tenantID string, kp *Keypair) error {
	dir := v.tenantDir(tenantID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("secrets: create tenant dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile),
		encodeKey(kp.Public), 0o644); err != nil {
		return fmt.Errorf("secrets: write public key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile),
		encodeKey(kp.Private), 0o600); err != nil {
		return fmt.Errorf("secrets: write private key: %w", err)
	}
	return nil
}

// ReadKeypair loads a tenant's keypair. Returns ErrNoSecrets when the tenant
// has none.
func (v *Vault) ReadKeypair(tenantID string) (*Keypair, error) {
	dir := v.tenantDir(tenantID)
	pub, err := readKey(filepath.Join(dir, publicKeyFile))
	if err != nil {
		return nil, err
	}
	priv, err := readKey(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, err
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// Seal writes the tenant's credentials, sealed to the tenant's public key.
func (v *Vault) Seal(tenantID string, creds *Credentials) error {
	kp, err := v.ReadKeypair(tenantID)
	if err != nil {
		return err
	}
	plain, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("secrets: encode credentials: %w", err)
	}
	sealed, err := box.SealAnonymous(nil, plain, kp.Public, rand.Reader)
	if err != nil {
		return fmt.Errorf("secrets: seal credentials: %w", err)
	}
	path := filepath.Join(v.tenantDir(tenantID), sealedFile)
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("secrets: write sealed credentials: %w", err)
	}
	return nil
}

// Open unseals and returns the tenant's credentials. The read and unseal
// are bounded by ctx so a hung secrets volume cannot stall the caller;
// deployments pass a deadline derived from the configured secret timeout.
func (v *Vault) Open(ctx context.Context, tenantID string) (*Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("secrets: open credentials for tenant %s: %w", tenantID, err)
	}
	type result struct {
		creds *Credentials
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		creds, err := v.open(tenantID)
		ch <- result{creds, err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("secrets: open credentials for tenant %s: %w", tenantID, ctx.Err())
	case r := <-ch:
		return r.creds, r.err
	}
}

func (v *Vault) open(tenantID string) (*Credentials, error) {
	kp, err := v.ReadKeypair(tenantID)
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(filepath.Join(v.tenantDir(tenantID), sealedFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: tenant %s", ErrNoSecrets, tenantID)
		}
		return nil, fmt.Errorf("secrets: read sealed credentials: %w", err)
	}
	plain, ok := box.OpenAnonymous(nil, sealed, kp.Public, kp.Private)
	if !ok {
		return nil, fmt.Errorf("secrets: cannot unseal credentials for tenant %s", tenantID)
	}
	var creds Credentials
	if err := yaml.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("secrets: decode credentials: %w", err)
	}
	return &creds, nil
}

// Remove deletes all of a tenant's secret material. Used by deprovisioning
// and by provisioning rollback.
func (v *Vault) Remove(tenantID string) error {
	if err := os.RemoveAll(v.tenantDir(tenantID)); err != nil {
		return fmt.Errorf("secrets: remove tenant material: %w", err)
	}
	return nil
}

func encodeKey(key *[32]byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(key[:]) + "\n")
}

func readKey(path string) (*[32]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSecrets, path)
		}
		return nil, fmt.Errorf("secrets: read key: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(string(trimNewline(data)))
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key %s: %w", path, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secrets: key %s has %d bytes, want 32", path, len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
