// Package bootstrap provides dependency initialization for the soundbank
// pipeline.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hearalert/soundbank/internal/catalog"
	"github.com/hearalert/soundbank/internal/collect"
	"github.com/hearalert/soundbank/internal/config"
	"github.com/hearalert/soundbank/internal/ledger"
	"github.com/hearalert/soundbank/internal/pipeline"
	"github.com/hearalert/soundbank/internal/run"
	"github.com/hearalert/soundbank/internal/storage"
	"github.com/hearalert/soundbank/internal/synth"
)

// Dependencies holds all initialized dependencies for the server and CLI.
type Dependencies struct {
	Pipeline *pipeline.Service
	Runs     run.Repository

	closers []func() error
}

// Close releases resources such as the ledger database.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the
// application. Extra pipeline options are applied after the configured
// ones.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...pipeline.Option) (*Dependencies, error) {
	deps := &Dependencies{}

	cat, err := initCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}

	var regOpts []synth.RegistryOption
	if !cfg.SynthFallback {
		regOpts = append(regOpts, synth.WithFallback(synth.ShapeNone))
	}
	registry, err := synth.NewRegistry(cat.Shapes(), regOpts...)
	if err != nil {
		return nil, fmt.Errorf("create synth registry: %w", err)
	}

	external, err := collect.NewExternalSource(cfg.ExternalDir, cat.Mapper())
	if err != nil {
		return nil, fmt.Errorf("load external corpus: %w", err)
	}
	collector := collect.NewCollector(logger,
		collect.NewNaturalSource(cfg.NaturalDir, cat),
		external,
		collect.NewPriorSource(cfg.PriorDirs...),
	)

	output, err := storage.NewLocalStorage(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create output storage: %w", err)
	}
	dataset, err := initDatasetStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	l, err := initLedger(cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := l.(interface{ Close() error }); ok {
		deps.closers = append(deps.closers, c.Close)
	}

	deps.Runs = run.NewMemoryRepository()

	settings := pipeline.Settings{
		Workers:          cfg.Workers,
		PoolThreshold:    cfg.PoolThreshold,
		MaxVariants:      cfg.MaxVariantsPerClip,
		OpCount:          cfg.AugmentOps,
		SynthParams:      synth.Params{SampleRate: cfg.SynthSampleRate, Duration: cfg.SynthDuration},
		BackgroundLabels: cfg.BackgroundLabels,
		ManifestName:     cfg.ManifestPath,
		TrainingName:     cfg.TrainingYAMLPath,
	}
	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithSettings(settings),
	}
	if len(cfg.BackgroundLabels) > 0 {
		pipeOpts = append(pipeOpts, pipeline.WithBackgrounds(external))
	}
	pipeOpts = append(pipeOpts, opts...)

	deps.Pipeline = pipeline.NewService(cat, collector, output, dataset, l, registry, deps.Runs, pipeOpts...)
	return deps, nil
}

// initCatalog loads the catalog file when configured, else the embedded one.
func initCatalog(cfg *config.Config, logger *slog.Logger) (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	cat = cat.WithDefaultQuota(cfg.DefaultQuota)
	logger.Info("catalog loaded",
		slog.String("path", cfg.CatalogPath),
		slog.Int("categories", len(cat.Names())),
	)
	return cat, nil
}

// initDatasetStorage creates the dataset backend. With S3 configured the
// manifest is published to the bucket as well.
func initDatasetStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.DatasetDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("dataset_dir", cfg.DatasetDir),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.DatasetDir)
	if err != nil {
		return nil, fmt.Errorf("create dataset storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("output_dir", cfg.OutputDir),
		slog.String("dataset_dir", cfg.DatasetDir),
	)
	return localStore, nil
}

func initLedger(cfg *config.Config, logger *slog.Logger) (ledger.Ledger, error) {
	path := cfg.LedgerFile()
	if path == "" {
		logger.Warn("ledger kept in memory, restarts regenerate every clip")
		return ledger.NewMemory(), nil
	}
	db, err := ledger.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	logger.Info("ledger opened", slog.String("path", path))
	return db, nil
}
