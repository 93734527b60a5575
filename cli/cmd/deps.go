// Package cmd implements the sluice CLI commands.
//
// serve runs the admin and ingestion HTTP surface, worker runs one pipeline
// stage consumer, and tenant manages the tenant lifecycle. All commands read
// configuration from SLUICE_* environment variables, with --config naming an
// optional YAML file.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/oxbow-systems/sluice/blob"
	"github.com/oxbow-systems/sluice/config"
	"github.com/oxbow-systems/sluice/embed"
	"github.com/oxbow-systems/sluice/log"
	"github.com/oxbow-systems/sluice/multimodal"
	"github.com/oxbow-systems/sluice/queue"
	"github.com/oxbow-systems/sluice/store"
	"github.com/oxbow-systems/sluice/vector"
)

// Model identifiers sent to the online endpoints.
const (
	embedModel      = "nomic-embed-text"
	transcribeModel = "whisper-1"
)

// ConfigFlag names the optional YAML config file. Environment variables
// still override anything the file sets.
func ConfigFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "Path to YAML config file (overrides SLUICE_CONFIG)",
	}
}

// loadConfig resolves the process configuration for a command.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		if err := os.Setenv("SLUICE_CONFIG", path); err != nil {
			return nil, err
		}
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("configuration: %v", err), 2)
	}
	return cfg, nil
}

// backends holds the shared store handles a command wires together.
type backends struct {
	meta    *store.Store
	vectors *vector.Store
	blobs   *blob.Store
	fabric  *queue.Fabric
	bus     *queue.Bus
}

// dial connects every backend the pipeline touches. Callers own Close.
func dial(ctx context.Context, cfg *config.Config, logger *log.Logger) (*backends, error) {
	meta, err := store.New(ctx, cfg.ControlDBURL)
	if err != nil {
		return nil, fmt.Errorf("control database: %w", err)
	}
	vectors, err := vector.New(ctx, cfg.VectorDB())
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("vector database: %w", err)
	}
	blobs, err := blob.New(ctx, cfg.Bucket, blob.Options{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		UsePathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		vectors.Close()
		meta.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}
	fabric, err := queue.New(cfg.RedisURL)
	if err != nil {
		vectors.Close()
		meta.Close()
		return nil, fmt.Errorf("queue fabric: %w", err)
	}
	return &backends{
		meta:    meta,
		vectors: vectors,
		blobs:   blobs,
		fabric:  fabric,
		bus:     queue.NewBus(fabric, logger),
	}, nil
}

// Close releases every backend connection.
func (b *backends) Close() {
	_ = b.fabric.Close()
	b.vectors.Close()
	b.meta.Close()
}

// textEmbedder returns the text embedding client for the configured mode.
func textEmbedder(cfg *config.Config) embed.Client {
	if cfg.Mode == config.ModeOnline {
		return embed.NewHTTP(cfg.EmbeddingEndpoint, embedModel, vector.TextDimensions, cfg.EmbedTimeout.Duration)
	}
	return embed.NewStub(vector.TextDimensions)
}

// visualEmbedder returns the image embedding client for the configured mode.
func visualEmbedder(cfg *config.Config) multimodal.Visual {
	if cfg.Mode == config.ModeOnline && cfg.VisualEndpoint != "" {
		return multimodal.NewHTTPVisual(cfg.VisualEndpoint, vector.ImageDimensions, cfg.EmbedTimeout.Duration)
	}
	return multimodal.NewStubVisual(vector.ImageDimensions)
}

// transcriber returns the speech-to-text client for the configured mode.
func transcriber(cfg *config.Config) multimodal.Transcriber {
	if cfg.Mode == config.ModeOnline && cfg.TranscriptionEndpoint != "" {
		return multimodal.NewHTTPTranscriber(cfg.TranscriptionEndpoint, transcribeModel, cfg.EmbedTimeout.Duration)
	}
	return multimodal.StubTranscriber{}
}

// ocrClient returns the OCR client for the configured mode.
func ocrClient(cfg *config.Config) multimodal.OCR {
	if cfg.Mode == config.ModeOnline && cfg.OCREndpoint != "" {
		return multimodal.NewHTTPOCR(cfg.OCREndpoint, cfg.EmbedTimeout.Duration)
	}
	return multimodal.StubOCR{}
}

// frameExtractor returns the video frame extractor for the configured mode.
func frameExtractor(cfg *config.Config) multimodal.FrameExtractor {
	if cfg.Mode == config.ModeOnline {
		return multimodal.NewFFmpeg("")
	}
	return multimodal.StubFrames{}
}

// dialTimeout bounds backend connection setup at startup.
const dialTimeout = 30 * time.Second
