package agg

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
)

// HotspotFile is a file ranked by how often it changed org-wide.
type HotspotFile struct {
	Key     string `json:"key"`
	Commits int    `json:"commits"`
}

// HotspotSet is the ranked set of the most frequently changed files in an org.
type HotspotSet struct {
	Files []HotspotFile
	index map[string]struct{}
}

// HotspotKey qualifies a path with its repository.
func HotspotKey(repo, path string) string {
	return repo + ":" + path
}

// Contains reports whether repo/path is a hotspot.
func (h HotspotSet) Contains(repo, path string) bool {
	_, ok := h.index[HotspotKey(repo, path)]
	return ok
}

// Len returns the number of hotspot files.
func (h HotspotSet) Len() int {
	return len(h.Files)
}

// NewHotspotSet builds a set from already ranked files.
func NewHotspotSet(files []HotspotFile) HotspotSet {
	index := make(map[string]struct{}, len(files))
	for _, f := range files {
		index[f.Key] = struct{}{}
	}
	return HotspotSet{Files: files, index: index}
}

// HotspotWindow returns the trailing window that ends with the last day of year.
func HotspotWindow(year int, window time.Duration) (since, until time.Time) {
	_, until = contract.YearWindow(year)
	return until.Add(-window), until
}

// ComputeHotspots ranks files by commit count in [since, until) and keeps the
// top limit. Ties are broken by key so the result never depends on input order.
func ComputeHotspots(commits []schema.Commit, since, until time.Time, limit int) HotspotSet {
	counts := make(map[string]int)
	for _, c := range commits {
		if c.CommittedAt.Before(since) || !c.CommittedAt.Before(until) {
			continue
		}
		seen := make(map[string]struct{}, len(c.Files))
		for _, f := range c.Files {
			key := HotspotKey(c.Repo, f.Path)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			counts[key]++
		}
	}

	ranked := make([]HotspotFile, 0, len(counts))
	for key, n := range counts {
		ranked = append(ranked, HotspotFile{Key: key, Commits: n})
	}
	slices.SortFunc(ranked, func(a, b HotspotFile) int {
		if c := cmp.Compare(b.Commits, a.Commits); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return NewHotspotSet(ranked)
}

// CollectHotspots reads every author's commits in the hotspot window from each
// repo and ranks them. Repos that fail to load are skipped; their errors are
// joined into the returned error alongside a usable partial set.
func CollectHotspots(ctx context.Context, src contract.CommitSource, org string, repos []string, year int, settings schema.HotspotSettings) (HotspotSet, error) {
	since, until := HotspotWindow(year, settings.Window)
	var all []schema.Commit
	var errs []error
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return HotspotSet{}, err
		}
		commits, err := src.ListCommits(ctx, contract.CommitQuery{Org: org, Repo: repo, Since: since, Until: until})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list hotspot commits for %s: %w", repo, err))
			continue
		}
		all = append(all, commits...)
	}
	return ComputeHotspots(all, since, until, settings.Limit), errors.Join(errs...)
}
