// Package algo clusters commits into work units, scores them and picks the
// review sample.
package algo

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huangsam/devyear/schema"
)

// unitNamespace scopes deterministic work unit ids.
var unitNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/huangsam/devyear/work-unit"))

// UnitID derives a stable id from the run, repo and first commit of a unit.
func UnitID(runID, repo, firstSHA string) string {
	return uuid.NewSHA1(unitNamespace, []byte(runID+"/"+repo+"/"+firstSHA)).String()
}

// SortCommits returns commits ordered by time then SHA, dropping repeated SHAs.
func SortCommits(commits []schema.Commit) []schema.Commit {
	sorted := slices.Clone(commits)
	slices.SortStableFunc(sorted, func(a, b schema.Commit) int {
		if c := a.CommittedAt.Compare(b.CommittedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SHA, b.SHA)
	})
	seen := make(map[string]struct{}, len(sorted))
	return slices.DeleteFunc(sorted, func(c schema.Commit) bool {
		if _, dup := seen[c.SHA]; dup {
			return true
		}
		seen[c.SHA] = struct{}{}
		return false
	})
}

// clusterBuilder is the single open cluster while scanning.
type clusterBuilder struct {
	commits  []schema.Commit
	prefixes map[string]struct{}
	last     time.Time
	special  bool
}

func newClusterBuilder(c schema.Commit, depth int, special bool) *clusterBuilder {
	return &clusterBuilder{
		commits:  []schema.Commit{c},
		prefixes: prefixSet(c.Paths(), depth),
		last:     c.CommittedAt,
		special:  special,
	}
}

// accepts reports whether c continues the open cluster.
func (b *clusterBuilder) accepts(c schema.Commit, s schema.ClusterSettings) bool {
	gap := c.CommittedAt.Sub(b.last)
	if gap <= s.RapidGap {
		return true
	}
	if gap > s.LongGap {
		return false
	}
	return Jaccard(b.prefixes, prefixSet(c.Paths(), s.PrefixDepth)) >= s.MinSimilarity
}

func (b *clusterBuilder) add(c schema.Commit, depth int) {
	b.commits = append(b.commits, c)
	for p := range prefixSet(c.Paths(), depth) {
		b.prefixes[p] = struct{}{}
	}
	b.last = c.CommittedAt
}

// ClusterCommits groups one repo's commits into work units. Each commit lands
// in exactly one unit and units never overlap in time. A hotfix or revert
// commit always forms a unit of its own.
func ClusterCommits(runID, repo string, commits []schema.Commit, s schema.ClusterSettings) []schema.WorkUnit {
	var units []schema.WorkUnit
	var open *clusterBuilder

	flush := func() {
		if open != nil {
			units = append(units, buildUnit(runID, repo, open, s.PrefixDepth))
			open = nil
		}
	}

	for _, c := range SortCommits(commits) {
		if IsSpecialCommit(c.Message) {
			flush()
			open = newClusterBuilder(c, s.PrefixDepth, true)
			flush()
			continue
		}
		if open != nil && open.accepts(c, s) {
			open.add(c, s.PrefixDepth)
			continue
		}
		flush()
		open = newClusterBuilder(c, s.PrefixDepth, false)
	}
	flush()
	return units
}

// buildUnit summarizes a closed cluster.
func buildUnit(runID, repo string, b *clusterBuilder, depth int) schema.WorkUnit {
	first, last := b.commits[0], b.commits[len(b.commits)-1]
	unit := schema.WorkUnit{
		ID:            UnitID(runID, repo, first.SHA),
		RunID:         runID,
		Repo:          repo,
		Author:        first.AuthorLogin,
		StartTime:     first.CommittedAt,
		EndTime:       last.CommittedAt,
		IsSpecialCase: b.special,
	}

	types := make([]schema.WorkType, 0, len(b.commits))
	files := make(map[string]struct{})
	prefixCounts := make(map[string]int)
	for _, c := range b.commits {
		unit.CommitSHAs = append(unit.CommitSHAs, c.SHA)
		unit.Additions += c.Additions
		unit.Deletions += c.Deletions
		types = append(types, ClassifyCommit(c))
		for _, f := range c.Files {
			files[f.Path] = struct{}{}
			prefixCounts[DirPrefix(f.Path, depth)]++
		}
	}
	unit.WorkType = VoteWorkType(types)
	unit.Files = make([]string, 0, len(files))
	for f := range files {
		unit.Files = append(unit.Files, f)
	}
	slices.Sort(unit.Files)
	unit.Title = DefaultTitle(unit.WorkType, topPrefix(prefixCounts), len(b.commits))
	return unit
}

// DefaultTitle is the descriptive title used until an AI title replaces it.
func DefaultTitle(workType schema.WorkType, area string, commits int) string {
	return fmt.Sprintf("%s: %s (%d commits)", workType, area, commits)
}

// topPrefix picks the most changed directory prefix, ties by name.
func topPrefix(counts map[string]int) string {
	best, bestCount := ".", 0
	for p, n := range counts {
		if n > bestCount || (n == bestCount && cmp.Less(p, best)) {
			best, bestCount = p, n
		}
	}
	return best
}
