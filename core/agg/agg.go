// Package agg has aggregation logic for developer commit activity.
package agg

import (
	"cmp"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/huangsam/devyear/schema"
)

// topN is the length of the ranked breakdowns in a metrics snapshot.
const topN = 5

// ComputeMetrics aggregates one developer's commits into a yearly snapshot
// covering volume, cadence and diversity. Commits may arrive in any order.
func ComputeMetrics(commits []schema.Commit) schema.DeveloperMetrics {
	var m schema.DeveloperMetrics
	if len(commits) == 0 {
		return m
	}

	// 1. Initialize aggregation maps
	days := make(map[string]time.Time)
	weeks := make(map[[2]int]struct{})
	repos := make(map[string]int)
	dirs := make(map[string]int)
	exts := make(map[string]int)
	files := make(map[string]struct{})

	// 2. Aggregate every commit in a single pass
	for _, c := range commits {
		at := c.CommittedAt.UTC()
		m.TotalCommits++
		m.Additions += c.Additions
		m.Deletions += c.Deletions
		m.CommitsByMonth[at.Month()-1]++
		m.CommitsByWeekday[at.Weekday()]++

		day := at.Format(time.DateOnly)
		days[day] = time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		y, w := at.ISOWeek()
		weeks[[2]int{y, w}] = struct{}{}
		repos[c.Repo]++

		if m.FirstCommit == nil || at.Before(*m.FirstCommit) {
			first := at
			m.FirstCommit = &first
		}
		if m.LastCommit == nil || at.After(*m.LastCommit) {
			last := at
			m.LastCommit = &last
		}

		// Count each directory and extension once per commit
		seenDirs := make(map[string]struct{})
		seenExts := make(map[string]struct{})
		for _, f := range c.Files {
			files[c.Repo+":"+f.Path] = struct{}{}
			seenDirs[TopDirectory(f.Path)] = struct{}{}
			if ext := strings.ToLower(path.Ext(f.Path)); ext != "" {
				seenExts[ext] = struct{}{}
			}
		}
		for d := range seenDirs {
			dirs[d]++
		}
		for e := range seenExts {
			exts[e]++
		}
	}

	// 3. Derive the cadence and diversity figures
	m.ActiveDays = len(days)
	m.ActiveWeeks = len(weeks)
	m.LongestStreakDays = longestStreak(days)
	m.CommitsPerActiveDay = schema.RoundScore(float64(m.TotalCommits) / float64(m.ActiveDays))
	m.ReposTouched = len(repos)
	m.FilesTouched = len(files)
	m.TopRepos = rankCounts(repos, topN)
	m.TopDirectories = rankCounts(dirs, topN)
	m.TopExtensions = rankCounts(exts, topN)
	return m
}

// TopDirectory returns the first path segment, or "." for root files.
func TopDirectory(p string) string {
	p = strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "/")
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return "."
}

// longestStreak returns the longest run of consecutive active days.
func longestStreak(days map[string]time.Time) int {
	sorted := make([]time.Time, 0, len(days))
	for _, d := range days {
		sorted = append(sorted, d)
	}
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })

	best, current := 0, 0
	for i, d := range sorted {
		if i > 0 && d.Sub(sorted[i-1]) == 24*time.Hour {
			current++
		} else {
			current = 1
		}
		best = max(best, current)
	}
	return best
}

// rankCounts sorts counts descending with ties broken by name, and keeps the top limit.
func rankCounts(counts map[string]int, limit int) []schema.NameCount {
	ranked := make([]schema.NameCount, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, schema.NameCount{Name: name, Count: count})
	}
	slices.SortFunc(ranked, func(a, b schema.NameCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
