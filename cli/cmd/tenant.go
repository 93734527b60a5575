package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/provision"
	"github.com/oxbow-systems/sluice/secrets"
)

// TenantCommand returns the tenant lifecycle commands.
func TenantCommand() *cli.Command {
	return &cli.Command{
		Name:  "tenant",
		Usage: "Manage tenant lifecycle",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Register a tenant in PENDING state",
				ArgsUsage: "<tenant-id>",
				Flags: []cli.Flag{
					ConfigFlag(),
					&cli.StringFlag{
						Name:  "tenant-config",
						Usage: "Path to tenant config JSON (defaults to {})",
					},
				},
				Action: tenantCreateAction,
			},
			{
				Name:      "provision",
				Usage:     "Provision storage for a PENDING tenant and activate it",
				ArgsUsage: "<tenant-id>",
				Flags:     []cli.Flag{ConfigFlag()},
				Action:    tenantProvisionAction,
			},
			{
				Name:      "deprovision",
				Usage:     "Tear down a tenant's storage and mark it DELETED",
				ArgsUsage: "<tenant-id>",
				Flags:     []cli.Flag{ConfigFlag()},
				Action:    tenantDeprovisionAction,
			},
			{
				Name:      "credentials",
				Usage:     "Decrypt and print a tenant's service credentials",
				ArgsUsage: "<tenant-id>",
				Flags:     []cli.Flag{ConfigFlag()},
				Action:    tenantCredentialsAction,
			},
		},
	}
}

// withProvisioner wires the provisioner against every backing store and runs fn.
func withProvisioner(c *cli.Context, fn func(ctx context.Context, p *provision.Provisioner, tenantID string) error) error {
	tenantID := c.Args().First()
	if tenantID == "" {
		return cli.Exit("tenant id argument is required", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := log.NewLogger("provisioner")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	be, err := dial(dialCtx, cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("startup: %v", err), 1)
	}
	defer be.Close()

	// Database and role creation needs an admin connection of its own; the
	// control-plane pool is scoped to the sluice database.
	admin, err := pgxpool.New(dialCtx, cfg.ControlDBURL)
	if err != nil {
		return cli.Exit(fmt.Sprintf("startup: admin database: %v", err), 1)
	}
	defer admin.Close()

	p := provision.New(
		be.meta,
		secrets.NewVault(cfg.SecretsPath),
		be.blobs,
		provision.NewPGAdmin(admin),
		be.vectors,
		provision.NewRedisACL(be.fabric.Client()),
		logger,
	)
	if err := fn(ctx, p, tenantID); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func tenantCreateAction(c *cli.Context) error {
	var tenantConfig []byte
	if path := c.String("tenant-config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("tenant config: %v", err), 2)
		}
		tenantConfig = data
	}
	return withProvisioner(c, func(ctx context.Context, p *provision.Provisioner, tenantID string) error {
		if err := p.Register(ctx, tenantID, tenantConfig); err != nil {
			return err
		}
		fmt.Printf("tenant %s created (PENDING)\n", tenantID)
		return nil
	})
}

func tenantProvisionAction(c *cli.Context) error {
	return withProvisioner(c, func(ctx context.Context, p *provision.Provisioner, tenantID string) error {
		if err := p.Provision(ctx, tenantID); err != nil {
			return err
		}
		fmt.Printf("tenant %s provisioned (ACTIVE)\n", tenantID)
		return nil
	})
}

func tenantDeprovisionAction(c *cli.Context) error {
	return withProvisioner(c, func(ctx context.Context, p *provision.Provisioner, tenantID string) error {
		if err := p.Deprovision(ctx, tenantID); err != nil {
			return err
		}
		fmt.Printf("tenant %s deprovisioned (DELETED)\n", tenantID)
		return nil
	})
}

// tenantCredentialsAction reads only the vault, so it skips the backend dial.
// The decrypt is bounded by the configured secret timeout.
func tenantCredentialsAction(c *cli.Context) error {
	tenantID := c.Args().First()
	if tenantID == "" {
		return cli.Exit("tenant id argument is required", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SecretTimeout.Duration)
	defer cancel()
	creds, err := secrets.NewVault(cfg.SecretsPath).Open(ctx, tenantID)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	out, err := yaml.Marshal(creds)
	if err != nil {
		return cli.Exit(fmt.Sprintf("encode credentials: %v", err), 1)
	}
	fmt.Print(string(out))
	return nil
}
