// Package main provides the batch entry point: it runs the dataset pipeline
// once over the configured corpora and prints the per-category summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/hearalert/soundbank/internal/bootstrap"
	"github.com/hearalert/soundbank/internal/config"
	"github.com/hearalert/soundbank/internal/pipeline"
	"github.com/hearalert/soundbank/internal/run"
)

type options struct {
	envFile    string
	seed       uint64
	seedSet    bool
	categories []string
	workers    int
	quiet      bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	var categories string

	fs := flag.NewFlagSet("soundbank", flag.ContinueOnError)
	fs.StringVar(&opts.envFile, "env", ".env", "optional env file loaded before the environment")
	fs.Uint64Var(&opts.seed, "seed", 0, "random seed (overrides SEED)")
	fs.StringVar(&categories, "categories", "", "comma-separated category subset (default: whole catalog)")
	fs.IntVar(&opts.workers, "workers", 0, "categories processed at once (overrides WORKERS)")
	fs.BoolVar(&opts.quiet, "quiet", false, "disable the progress bar")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.seedSet = true
		}
	})
	for _, c := range strings.Split(categories, ",") {
		if c = strings.TrimSpace(c); c != "" {
			opts.categories = append(opts.categories, c)
		}
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err == nil {
		err = execute(opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func execute(opts options) error {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.seedSet {
		cfg.Seed = opts.seed
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting dataset run",
		slog.Uint64("seed", cfg.Seed),
		slog.Int("workers", cfg.Workers),
		slog.String("output_dir", cfg.OutputDir),
		slog.String("dataset_dir", cfg.DatasetDir),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The bar is created once the category count is known; the observer
	// only fires after that.
	var bar *mpb.Bar
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger,
		pipeline.WithObserver(func(run.CategoryResult) {
			if bar != nil {
				bar.Increment()
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("failed to close dependencies", slog.String("error", err.Error()))
		}
	}()

	subset, err := deps.Pipeline.Catalog().Subset(opts.categories)
	if err != nil {
		return err
	}

	var progress *mpb.Progress
	if !opts.quiet {
		progress = mpb.NewWithContext(ctx, mpb.WithOutput(os.Stderr), mpb.WithWidth(64))
		bar = progress.AddBar(int64(len(subset.Names())),
			mpb.PrependDecorators(
				decor.Name("Balancing: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.Elapsed(decor.ET_STYLE_GO),
			),
		)
	}

	report, runErr := deps.Pipeline.Run(ctx, cfg.Seed, opts.categories)
	if progress != nil {
		if runErr != nil {
			bar.Abort(false)
		}
		progress.Wait()
	}

	if report != nil {
		if err := report.WriteSummary(os.Stdout); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d categories failed", n)
	}
	return nil
}
