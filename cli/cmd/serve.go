package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/oxbow-systems/sluice/auth"
	"github.com/oxbow-systems/sluice/intake"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/metrics"
	"github.com/oxbow-systems/sluice/ratelimit"
	"github.com/oxbow-systems/sluice/scan"
	"github.com/oxbow-systems/sluice/server"
)

// ServeCommand returns the serve command: the ingestion and admin HTTP
// surface.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the ingestion and admin HTTP server",
		Flags:  []cli.Flag{ConfigFlag()},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := log.NewLogger("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	be, err := dial(dialCtx, cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("startup: %v", err), 1)
	}
	defer be.Close()

	var scanner scan.Scanner
	if cfg.ClamdAddr != "" {
		scanner = scan.NewClamd(cfg.ClamdAddr)
	}
	svc := intake.New(be.blobs, be.meta, be.fabric, be.bus, logger, intake.Options{
		Scanner:      scanner,
		ScanRequired: cfg.ScanRequired,
	})

	limiter := ratelimit.New(be.fabric.Client(), cfg.RateLimit, cfg.RateLimitWindow.Duration)
	verifier := auth.New(cfg.JWTSecret, cfg.AuthBypass)
	if cfg.AuthBypass {
		logger.Warn("authentication bypass is enabled", nil)
	}
	m := metrics.New()
	vectorize := server.NewVectorizer(textEmbedder(cfg), visualEmbedder(cfg), transcriber(cfg))

	srv := server.New(svc, be.meta, be.vectors, limiter, be.bus, vectorize, verifier, m, logger, cfg.CORSOrigins)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", map[string]any{"addr": cfg.ListenAddr, "mode": string(cfg.Mode)})
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return cli.Exit(fmt.Sprintf("server: %v", err), 1)
	}
	logger.Info("server stopped", nil)
	return nil
}
