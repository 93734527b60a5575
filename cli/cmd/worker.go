package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/metrics"
	"github.com/oxbow-systems/sluice/multimodal"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/worker"
)

// WorkerCommand returns the worker command. One process consumes one stage;
// scale by running more processes.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:      "worker",
		Usage:     "Run a pipeline stage consumer",
		ArgsUsage: fmt.Sprintf("<%s|%s|%s|multimodal>", queue.StageParse, queue.StagePolicy, queue.StageEmbedding),
		Flags:     []cli.Flag{ConfigFlag()},
		Action:    workerAction,
	}
}

func workerAction(c *cli.Context) error {
	stage := c.Args().First()
	switch stage {
	case queue.StageParse, queue.StagePolicy, queue.StageEmbedding, "multimodal":
	case "":
		return cli.Exit("worker requires a stage argument", 2)
	default:
		return cli.Exit(fmt.Sprintf("unknown stage %q", stage), 2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := log.NewLogger("worker." + stage)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	be, err := dial(dialCtx, cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("startup: %v", err), 1)
	}
	defer be.Close()

	m := metrics.New()
	var handler worker.Handler
	switch stage {
	case queue.StageParse:
		handler = worker.NewParseHandler(be.blobs, be.meta, be.vectors, be.fabric, be.bus, logger)
	case queue.StagePolicy:
		handler = worker.NewPolicyHandler(be.blobs, be.meta, be.fabric, be.bus, logger)
	case queue.StageEmbedding:
		handler = worker.NewEmbedHandler(be.meta, be.vectors, textEmbedder(cfg), be.bus, logger, m)
	case "multimodal":
		processor := multimodal.NewProcessor(be.blobs, be.vectors, textEmbedder(cfg),
			visualEmbedder(cfg), ocrClient(cfg), transcriber(cfg), frameExtractor(cfg), logger)
		handler = worker.NewMultimodalHandler(be.meta, processor, be.bus, logger, m)
	}

	runner := worker.NewRunner(be.fabric, be.meta, handler, logger, m,
		cfg.TenantRefresh.Duration, cfg.PopTimeout.Duration)
	if err := runner.Run(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("worker: %v", err), 1)
	}
	return nil
}
