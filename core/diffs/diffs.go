// Package diffs fetches and caches the patches of sampled commits.
package diffs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/internal/observability"
	"github.com/huangsam/devyear/schema"
)

// Cache is the slice of the run store the fetcher needs.
type Cache interface {
	GetDiff(ctx context.Context, repo, sha string) (*schema.CommitDiff, bool, error)
	SaveDiff(ctx context.Context, diff schema.CommitDiff) error
}

// Stats counts what a fetch did.
type Stats struct {
	CacheHits int
	Fetched   int
	Partial   int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.CacheHits += other.CacheHits
	s.Fetched += other.Fetched
	s.Partial += other.Partial
}

// Fetcher retrieves commit diffs through the diff source, caching every
// result. A complete cached diff is never fetched again; a partial one is
// fetched again on the next request and replaced when that succeeds.
type Fetcher struct {
	source  contract.DiffSource
	cache   Cache
	policy  contract.RetryPolicy
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
}

// NewFetcher creates a Fetcher. A nil logger or metrics disables them.
func NewFetcher(source contract.DiffSource, cache Cache, policy contract.RetryPolicy, logger *slog.Logger, metrics *observability.PipelineMetrics) *Fetcher {
	return &Fetcher{
		source:  source,
		cache:   cache,
		policy:  policy,
		logger:  observability.Component(logger, "diffs"),
		metrics: metrics,
	}
}

// FetchUnitDiffs returns one diff per sha in order. A sha that keeps failing
// yields a diff flagged Partial instead of an error; errors are reserved for
// the cache and for cancellation.
func (f *Fetcher) FetchUnitDiffs(ctx context.Context, org, repo string, shas []string) ([]schema.CommitDiff, Stats, error) {
	var stats Stats
	diffs := make([]schema.CommitDiff, 0, len(shas))
	for _, sha := range shas {
		if err := ctx.Err(); err != nil {
			return diffs, stats, err
		}
		diff, hit, err := f.fetchOne(ctx, org, repo, sha)
		if err != nil {
			return diffs, stats, err
		}
		switch {
		case hit:
			stats.CacheHits++
		case diff.Partial:
			stats.Partial++
		default:
			stats.Fetched++
		}
		diffs = append(diffs, diff)
	}
	f.metrics.RecordDiffs(ctx, observability.DiffCacheHit, stats.CacheHits)
	f.metrics.RecordDiffs(ctx, observability.DiffFetched, stats.Fetched)
	f.metrics.RecordDiffs(ctx, observability.DiffPartial, stats.Partial)
	return diffs, stats, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, org, repo, sha string) (schema.CommitDiff, bool, error) {
	cached, hit, err := f.cache.GetDiff(ctx, repo, sha)
	if err != nil {
		return schema.CommitDiff{}, false, fmt.Errorf("failed to read diff cache: %w", err)
	}
	if hit && !cached.Partial {
		return *cached, true, nil
	}

	var patches []schema.FilePatch
	attempts, fetchErr := contract.Retry(ctx, f.policy, func(ctx context.Context) error {
		var err error
		patches, err = f.source.FetchDiff(ctx, org, repo, sha)
		return err
	})
	if fetchErr != nil && ctx.Err() != nil {
		return schema.CommitDiff{}, false, ctx.Err()
	}

	diff := schema.CommitDiff{SHA: sha, Repo: repo, Files: patches}
	if fetchErr != nil {
		f.logger.Warn("diff fetch gave up", "repo", repo, "sha", sha, "attempts", attempts, "error", fetchErr)
		diff = schema.CommitDiff{SHA: sha, Repo: repo, Partial: true, Error: fetchErr.Error()}
	}
	if err := f.cache.SaveDiff(ctx, diff); err != nil {
		return schema.CommitDiff{}, false, fmt.Errorf("failed to cache diff %s: %w", sha, err)
	}
	return diff, false, nil
}
