package collect

import (
	"context"
	"fmt"
	"log/slog"
)

// Collector merges clips from its sources in registration order.
type Collector struct {
	sources []Source
	logger  *slog.Logger
}

// NewCollector creates a Collector. A nil logger falls back to slog.Default().
func NewCollector(logger *slog.Logger, sources ...Source) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{sources: sources, logger: logger}
}

// Collect returns the pool for category. Unreadable files become warnings;
// only directory-level I/O failures are returned as errors.
func (c *Collector) Collect(ctx context.Context, category string) (*Pool, error) {
	pool := &Pool{Category: category}
	seen := make(map[string]bool)

	for _, src := range c.sources {
		clips, warnings, err := src.Collect(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("collect %s from %s: %w", category, src.Name(), err)
		}
		for _, w := range warnings {
			c.logger.Warn("skipping unreadable clip",
				slog.String("category", category),
				slog.String("origin", w.Origin),
				slog.String("path", w.Path),
				slog.String("error", w.Err.Error()),
			)
		}
		pool.Warnings = append(pool.Warnings, warnings...)

		for _, clip := range clips {
			if seen[clip.ID] {
				continue
			}
			seen[clip.ID] = true
			pool.Clips = append(pool.Clips, clip)
		}
	}

	c.logger.Debug("pool collected",
		slog.String("category", category),
		slog.Int("clips", len(pool.Clips)),
		slog.Int("warnings", len(pool.Warnings)),
	)
	return pool, nil
}
