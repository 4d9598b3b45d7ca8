package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kaveri/deedscan/config"
	"github.com/kaveri/deedscan/db"
	"github.com/kaveri/deedscan/db/repository"
	"github.com/kaveri/deedscan/pipeline"
	"github.com/kaveri/deedscan/pipeline/extract"
	"github.com/kaveri/deedscan/pipeline/llm"
	"github.com/kaveri/deedscan/pipeline/validate"
	"github.com/kaveri/deedscan/storage"
)

// deps bundles the collaborators every subcommand wires a BatchCoordinator
// or Engine from.
type deps struct {
	cfg         config.PipelineConfig
	repo        pipeline.Repository
	files       pipeline.FileStore
	coordinator *pipeline.BatchCoordinator
	structured  pipeline.StructuredExtractor
	log         *logrus.Entry

	closers []func() error
}

func (d *deps) Close() {
	for _, c := range d.closers {
		_ = c()
	}
}

// buildDeps loads config and constructs the Repository, FileStore,
// StructuredExtractor, and BatchCoordinator named by it. Every subcommand
// calls this once; `start` additionally wraps the result in an Engine.
func buildDeps(ctx context.Context, cfg config.PipelineConfig, log *logrus.Entry) (*deps, error) {
	d := &deps{cfg: cfg, log: log}

	repo, err := buildRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("building repository: %w", err)
	}
	d.repo = repo

	files, err := buildFileStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("building filestore: %w", err)
	}
	d.files = files

	structured, closer, err := buildStructuredExtractor(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("building structured extractor: %w", err)
	}
	d.structured = structured
	if closer != nil {
		d.closers = append(d.closers, closer)
	}

	d.coordinator = pipeline.NewBatchCoordinator(repo, files, log)
	return d, nil
}

func buildRepository(cfg config.PipelineConfig) (pipeline.Repository, error) {
	switch cfg.RepositoryBackend {
	case "gorm":
		return repository.NewGormRepository(cfg.DatabaseURL)
	default:
		pg, err := db.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresRepository(pg), nil
	}
}

func buildFileStore(ctx context.Context, cfg config.PipelineConfig, log *logrus.Entry) (pipeline.FileStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3FileStore(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3Bucket, log)
	default:
		return storage.NewLocalFileStore(cfg.LocalRoot, log)
	}
}

// buildStructuredExtractor wraps the HTTP LLM client with a Redis cache
// when CacheEnabled, returning a closer for the underlying Redis
// connection. The embedded/OCR TextExtractor pair is built separately in
// start.go since only `start` needs it.
func buildStructuredExtractor(cfg config.PipelineConfig, log *logrus.Entry) (pipeline.StructuredExtractor, func() error, error) {
	inner := llm.NewHTTPStructuredExtractor(llm.Config{
		Endpoint:          cfg.LLMEndpoint,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.LLMModel,
		RequestsPerSecond: cfg.LLMRPS,
		Burst:             cfg.LLMBurst,
		HTTPTimeout:       cfg.LLMTimeout,
	}, log)

	if !cfg.CacheEnabled {
		return inner, nil, nil
	}

	cache, err := repository.NewRedisRepository(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis cache: %w", err)
	}
	cached := llm.NewCachingStructuredExtractor(inner, cache, cfg.CacheTTL, log)
	return cached, cache.Close, nil
}

// buildExtractors returns the embedded-text and OCR TextExtractor pair
// Engine toggles between. The OCR path needs a PageRasterizer and
// PageOCREngine, external collaborators outside this module's scope (see
// SPEC_FULL.md §1); toggling to "ocr" mode without one configured fails
// every document with ErrKindOCR rather than silently falling back to the
// embedded extractor.
func buildExtractors(log *logrus.Entry) (embedded, ocr pipeline.TextExtractor) {
	return extract.NewEmbeddedTextExtractor(log), unconfiguredOCRExtractor{}
}

// unconfiguredOCRExtractor is the default "ocr" mode TextExtractor before
// a real PageRasterizer/PageOCREngine pair is wired via
// pipeline/extract.NewFanOutExtractor. Every call fails so a batch run in
// unconfigured ocr mode surfaces as a clean OcrError per document instead
// of silently returning no text.
type unconfiguredOCRExtractor struct{}

func (unconfiguredOCRExtractor) Extract(ctx context.Context, path string) (string, int, time.Duration, error) {
	return "", 0, 0, fmt.Errorf("pipeline: ocr mode selected but no PageRasterizer/PageOCREngine configured")
}

func buildValidator(log *logrus.Entry) pipeline.Validator {
	return validate.NewDocumentValidator(log)
}
