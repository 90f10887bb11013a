// Package pipeline orchestrates a dataset run: every category is collected
// and balanced by a bounded pool of workers, then the assembler splits the
// results and writes the manifest. A failing category never stops its
// siblings; its error is reported in the run summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearalert/soundbank/internal/assemble"
	"github.com/hearalert/soundbank/internal/balance"
	"github.com/hearalert/soundbank/internal/catalog"
	"github.com/hearalert/soundbank/internal/collect"
	"github.com/hearalert/soundbank/internal/dsp"
	"github.com/hearalert/soundbank/internal/ledger"
	"github.com/hearalert/soundbank/internal/pcm"
	"github.com/hearalert/soundbank/internal/run"
	"github.com/hearalert/soundbank/internal/seed"
	"github.com/hearalert/soundbank/internal/storage"
	"github.com/hearalert/soundbank/internal/synth"
)

var (
	// ErrManifestNotReady is returned when a run has not produced a manifest.
	ErrManifestNotReady = errors.New("manifest not ready")
	// ErrRunInProgress is returned when a run cannot start because another
	// one is executing.
	ErrRunInProgress = errors.New("another run is in progress")
)

// RunsDir holds one manifest per run inside the dataset tree.
const RunsDir = "runs"

// BackgroundSource supplies noise beds for background mixing.
type BackgroundSource interface {
	CollectLabels(ctx context.Context, labels []string) ([]*collect.Clip, []collect.Warning, error)
}

// Settings tunes a run.
type Settings struct {
	// Workers bounds the number of categories processed at once.
	Workers       int
	PoolThreshold int
	// MaxVariants caps augmented variants per source clip; zero is unlimited.
	MaxVariants int
	OpCount     int
	SynthParams synth.Params
	// BackgroundLabels selects external clips used as noise beds.
	BackgroundLabels []string
	// ManifestName and TrainingName are paths relative to the dataset root.
	ManifestName string
	TrainingName string
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		Workers:       runtime.NumCPU(),
		PoolThreshold: balance.DefaultPoolThreshold,
		OpCount:       dsp.DefaultOpCount,
		SynthParams:   synth.DefaultParams(),
		ManifestName:  "manifest.json",
		TrainingName:  "training_config.yaml",
	}
}

// Service runs the pipeline and tracks runs in a repository.
type Service struct {
	catalog     *catalog.Catalog
	collector   *collect.Collector
	output      storage.Storage
	dataset     storage.Storage
	ledger      ledger.Ledger
	registry    *synth.Registry
	repo        run.Repository
	backgrounds BackgroundSource
	settings    Settings
	logger      *slog.Logger
	observer    func(run.CategoryResult)

	// active is held for the whole of Execute. Runs share the output and
	// dataset trees, so only one may execute at a time.
	active chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSettings replaces the default settings. Zero fields keep their
// defaults.
func WithSettings(cfg Settings) Option {
	return func(s *Service) {
		def := DefaultSettings()
		if cfg.Workers <= 0 {
			cfg.Workers = def.Workers
		}
		if cfg.PoolThreshold <= 0 {
			cfg.PoolThreshold = def.PoolThreshold
		}
		if cfg.OpCount <= 0 {
			cfg.OpCount = def.OpCount
		}
		if cfg.SynthParams.SampleRate <= 0 || cfg.SynthParams.Duration <= 0 {
			cfg.SynthParams = def.SynthParams
		}
		if cfg.ManifestName == "" {
			cfg.ManifestName = def.ManifestName
		}
		if cfg.TrainingName == "" {
			cfg.TrainingName = def.TrainingName
		}
		s.settings = cfg
	}
}

// WithBackgrounds enables background mixing from src.
func WithBackgrounds(src BackgroundSource) Option {
	return func(s *Service) {
		s.backgrounds = src
	}
}

// WithObserver registers fn to be called as each category job finishes.
// fn may be called from several goroutines at once.
func WithObserver(fn func(run.CategoryResult)) Option {
	return func(s *Service) {
		s.observer = fn
	}
}

// NewService creates a Service. output holds balanced clips and dataset the
// assembled tree; they must not share a root.
func NewService(
	cat *catalog.Catalog,
	collector *collect.Collector,
	output storage.Storage,
	dataset storage.Storage,
	l ledger.Ledger,
	registry *synth.Registry,
	repo run.Repository,
	opts ...Option,
) *Service {
	s := &Service{
		catalog:   cat,
		collector: collector,
		output:    output,
		dataset:   dataset,
		ledger:    l,
		registry:  registry,
		repo:      repo,
		settings:  DefaultSettings(),
		logger:    slog.Default(),
		active:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the catalog runs are drawn from.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// CreateRun validates the category subset and stores a queued run.
func (s *Service) CreateRun(ctx context.Context, seedValue uint64, categories []string) (*run.Run, error) {
	if _, err := s.catalog.Subset(categories); err != nil {
		return nil, err
	}
	r := run.New(seedValue, categories)

	s.logger.Info("creating new run",
		slog.String("run_id", r.ID),
		slog.Uint64("seed", seedValue),
		slog.Int("categories", len(categories)),
	)
	if err := s.repo.Save(ctx, r); err != nil {
		s.logger.Error("failed to save run",
			slog.String("run_id", r.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return r, nil
}

// GetRun retrieves a run by ID.
func (s *Service) GetRun(ctx context.Context, id string) (*run.Run, error) {
	return s.repo.FindByID(ctx, id)
}

// Run creates a run and executes it synchronously.
func (s *Service) Run(ctx context.Context, seedValue uint64, categories []string) (*Report, error) {
	r, err := s.CreateRun(ctx, seedValue, categories)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, r.ID)
}

// OpenManifest opens the manifest of a completed run.
func (s *Service) OpenManifest(ctx context.Context, id string) (io.ReadCloser, error) {
	r, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.GetStatus() != run.StatusCompleted || r.ManifestPath == "" {
		return nil, ErrManifestNotReady
	}
	return s.dataset.Open(ctx, r.ManifestPath)
}

// Busy reports whether a run is executing.
func (s *Service) Busy() bool {
	return len(s.active) > 0
}

// acquire takes the execution slot, waiting while another run holds it.
func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.active <- struct{}{}:
		return nil
	default:
	}
	s.logger.Info("waiting for the active run to finish")
	select {
	case s.active <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrRunInProgress, ctx.Err())
	}
}

// Execute processes a queued run to completion. Runs execute one at a time;
// a call made while another run executes waits, with the run still queued,
// until the slot frees or ctx ends. The returned report is non-nil whenever
// category jobs ran, even if the run failed afterwards.
func (s *Service) Execute(ctx context.Context, id string) (*Report, error) {
	r, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.acquire(ctx); err != nil {
		_ = r.Cancel()
		if saveErr := s.repo.Save(context.WithoutCancel(ctx), r); saveErr != nil {
			s.logger.Error("failed to save run", slog.String("run_id", r.ID), slog.String("error", saveErr.Error()))
		}
		return nil, err
	}
	defer func() { <-s.active }()
	if err := r.Start(); err != nil {
		return nil, fmt.Errorf("start run %s: %w", id, err)
	}
	if err := s.repo.Save(ctx, r); err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := s.execute(ctx, r)
	saveCtx := context.WithoutCancel(ctx)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = r.Cancel()
		} else {
			_ = r.Fail(err.Error())
		}
		if saveErr := s.repo.Save(saveCtx, r); saveErr != nil {
			s.logger.Error("failed to save run", slog.String("run_id", r.ID), slog.String("error", saveErr.Error()))
		}
		s.logger.Error("run failed",
			slog.String("run_id", r.ID),
			slog.String("error", err.Error()),
		)
		return report, err
	}

	if err := r.Complete(); err != nil {
		return report, err
	}
	if err := s.repo.Save(saveCtx, r); err != nil {
		return report, err
	}
	s.logger.Info("run completed",
		slog.String("run_id", r.ID),
		slog.Int("total_files", r.TotalFiles),
		slog.Int("failed_categories", report.Failed()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

func (s *Service) execute(ctx context.Context, r *run.Run) (*Report, error) {
	cat, err := s.catalog.Subset(r.Categories)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: r.ID, Seed: r.Seed}

	for _, st := range []storage.Storage{s.output, s.dataset} {
		n, err := st.SweepPartial(ctx)
		if err != nil {
			return nil, fmt.Errorf("sweep %s: %w", st.Root(), err)
		}
		report.Swept += n
	}
	if report.Swept > 0 {
		s.logger.Info("removed partial files from an interrupted run", slog.Int("files", report.Swept))
	}

	composer, err := s.composer(ctx)
	if err != nil {
		return nil, err
	}
	seeds := seed.New(r.Seed)
	bal := balance.New(s.output, s.ledger, composer, s.registry, seeds,
		balance.WithLogger(s.logger),
		balance.WithPoolThreshold(s.settings.PoolThreshold),
		balance.WithMaxVariantsPerClip(s.settings.MaxVariants),
		balance.WithSynthParams(s.settings.SynthParams),
	)

	names := cat.Names()
	report.Categories = make([]CategoryReport, len(names))

	g := new(errgroup.Group)
	g.SetLimit(s.settings.Workers)
	for i, name := range names {
		g.Go(func() error {
			rep := s.category(ctx, bal, name, cat.Quota(name))
			report.Categories[i] = rep

			summary := rep.Summary()
			r.AddResult(summary, len(names))
			if err := s.repo.Save(ctx, r); err != nil {
				s.logger.Warn("failed to save run progress", slog.String("error", err.Error()))
			}
			if s.observer != nil {
				s.observer(summary)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	var inputs []assemble.Input
	for _, rep := range report.Categories {
		if rep.Result != nil {
			inputs = append(inputs, assemble.Input{Category: rep.Category, Records: rep.Result.Records})
		}
	}
	asm := assemble.New(s.output, s.dataset, cat, seeds, assemble.WithLogger(s.logger))
	m, err := asm.Assemble(ctx, r.ID, inputs)
	if err != nil {
		return report, err
	}
	report.Manifest = m

	manifestPath, url, err := s.writeManifest(ctx, r.ID, m)
	if err != nil {
		return report, err
	}
	report.ManifestURL = url
	r.SetManifest(manifestPath, url, m.Metadata.TotalFiles)
	return report, nil
}

// category runs one category job. Errors are captured in the report.
func (s *Service) category(ctx context.Context, bal *balance.Balancer, name string, quota int) CategoryReport {
	start := time.Now()
	rep := CategoryReport{Category: name, Target: quota}
	s.logger.Info("category job started",
		slog.String("category", name),
		slog.Int("target", quota),
	)

	pool, err := s.collector.Collect(ctx, name)
	if err != nil {
		rep.Err = err
		rep.Elapsed = time.Since(start)
		s.logger.Error("category job failed", slog.String("category", name), slog.String("error", err.Error()))
		return rep
	}
	rep.Pool = len(pool.Clips)
	rep.Warnings = len(pool.Warnings)

	res, err := bal.Balance(ctx, pool, quota)
	rep.Elapsed = time.Since(start)
	if err != nil {
		rep.Err = err
		s.logger.Error("category job failed", slog.String("category", name), slog.String("error", err.Error()))
		return rep
	}
	rep.Result = res
	rep.Warnings += len(res.Warnings)

	s.logger.Info("category job finished",
		slog.String("category", name),
		slog.Int("achieved", res.Achieved),
		slog.Int("target", quota),
		slog.Duration("elapsed", rep.Elapsed),
	)
	return rep
}

// composer builds the augmentation composer, loading background beds when
// configured.
func (s *Service) composer(ctx context.Context) (*dsp.Composer, error) {
	opts := []dsp.ComposerOption{dsp.WithOpCount(s.settings.OpCount)}
	if s.backgrounds == nil || len(s.settings.BackgroundLabels) == 0 {
		return dsp.NewComposer(opts...), nil
	}

	clips, warnings, err := s.backgrounds.CollectLabels(ctx, s.settings.BackgroundLabels)
	if err != nil {
		return nil, fmt.Errorf("collect backgrounds: %w", err)
	}
	for _, w := range warnings {
		s.logger.Warn("skipping unreadable background", slog.String("path", w.Path), slog.String("error", w.Err.Error()))
	}

	beds := make([]dsp.Waveform, 0, len(clips))
	for _, c := range clips {
		w, _, err := pcm.DecodeFile(c.Path)
		if err != nil {
			s.logger.Warn("skipping unreadable background", slog.String("path", c.Path), slog.String("error", err.Error()))
			continue
		}
		beds = append(beds, w)
	}
	s.logger.Info("background beds loaded",
		slog.Int("beds", len(beds)),
		slog.Any("labels", s.settings.BackgroundLabels),
	)
	return dsp.NewComposer(append(opts, dsp.WithBackgrounds(beds...))...), nil
}

// ManifestPathFor returns where the manifest of run id is kept, relative to
// the dataset root.
func (s *Service) ManifestPathFor(id string) string {
	return path.Join(RunsDir, id, path.Base(s.settings.ManifestName))
}

// writeManifest stores the run's manifest under RunsDir, refreshes the
// top-level manifest and training config that describe the latest run, and
// publishes the run's manifest when the dataset storage supports it. It
// returns the run manifest's path and published URL.
func (s *Service) writeManifest(ctx context.Context, id string, m *assemble.Manifest) (string, string, error) {
	runPath := s.ManifestPathFor(id)
	for _, name := range []string{runPath, s.settings.ManifestName} {
		if _, err := s.dataset.WriteFile(ctx, name, func(w io.WriteSeeker) error {
			return m.WriteJSON(w)
		}); err != nil {
			return "", "", fmt.Errorf("write manifest %s: %w", name, err)
		}
	}
	if _, err := s.dataset.WriteFile(ctx, s.settings.TrainingName, func(w io.WriteSeeker) error {
		return m.WriteTrainingYAML(w)
	}); err != nil {
		return "", "", fmt.Errorf("write training config: %w", err)
	}

	rc, err := s.dataset.Open(ctx, runPath)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = rc.Close() }()

	url, err := s.dataset.Publish(ctx, runPath, rc)
	if errors.Is(err, storage.ErrS3NotConfigured) {
		return runPath, "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("publish manifest: %w", err)
	}
	s.logger.Info("manifest published", slog.String("url", url))
	return runPath, url, nil
}
