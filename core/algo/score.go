package algo

import (
	"math"
	"path"
	"slices"
	"strings"

	"github.com/huangsam/devyear/core/agg"
	"github.com/huangsam/devyear/schema"
)

// ScoreInput carries the org context an impact score depends on.
type ScoreInput struct {
	CriticalPaths []schema.CriticalPath
	Hotspots      agg.HotspotSet
	Settings      schema.ScoreSettings
}

// ComputeImpact scores a unit from its commits. Every component is capped
// on its own and the sum is clamped to [0, 100] and rounded to 2 decimals.
// The result depends only on the inputs.
func ComputeImpact(unit schema.WorkUnit, commits []schema.Commit, in ScoreInput) (float64, schema.ImpactFactors) {
	s := in.Settings
	var f schema.ImpactFactors

	// 1. Collect changed lines and files
	files := make(map[string]struct{})
	testLines := 0
	for _, c := range commits {
		lines := c.ChangedLines()
		f.ChangedLines += lines
		f.DampedLines += min(lines, s.CommitLineCap)
		for _, fc := range c.Files {
			files[fc.Path] = struct{}{}
			if IsTestPath(fc.Path) {
				testLines += fc.Lines()
			}
		}
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	// 2. Size, damped so one giant commit cannot dominate
	if s.SizeSaturation > 0 {
		f.Size = math.Min(s.SizeCap, s.SizeCap*math.Log1p(float64(f.DampedLines))/math.Log1p(s.SizeSaturation))
	}

	// 3. Core module bonus from the org's critical paths
	weight := 0.0
	for _, cp := range in.CriticalPaths {
		w := math.Max(0, math.Min(1, cp.Weight))
		for _, p := range paths {
			if MatchCriticalPath(cp.Pattern, p) {
				f.MatchedCriticalPaths = append(f.MatchedCriticalPaths, cp.Pattern)
				weight = math.Max(weight, w)
				break
			}
		}
	}
	slices.Sort(f.MatchedCriticalPaths)
	f.MatchedCriticalPaths = slices.Compact(f.MatchedCriticalPaths)
	f.CoreModule = weight * s.CoreCap

	// 4. Hotspot and config bonuses
	for _, p := range paths {
		if in.Hotspots.Contains(unit.Repo, p) {
			f.HotspotFiles = append(f.HotspotFiles, p)
		}
		if IsConfigPath(p) {
			f.ConfigFiles = append(f.ConfigFiles, p)
		}
	}
	if len(paths) > 0 {
		f.Hotspot = s.HotspotCap * float64(len(f.HotspotFiles)) / float64(len(paths))
	}
	if len(f.ConfigFiles) > 0 {
		f.ConfigSchema = s.ConfigBonus
	}

	// 5. Test ratio, from -TestCap with no tests to +TestCap with only tests
	if f.ChangedLines > 0 {
		f.TestLineRatio = schema.RoundScore(float64(testLines) / float64(f.ChangedLines))
		ratio := float64(testLines) / float64(f.ChangedLines)
		if ratio < 1 || unit.WorkType == schema.TestWork {
			f.TestRatio = s.TestCap * (2*ratio - 1)
		}
	}

	f.Size = schema.RoundScore(f.Size)
	f.CoreModule = schema.RoundScore(f.CoreModule)
	f.Hotspot = schema.RoundScore(f.Hotspot)
	f.TestRatio = schema.RoundScore(f.TestRatio)
	score := math.Max(0, math.Min(schema.MaxImpactScore, f.Sum()))
	return schema.RoundScore(score), f
}

// MatchCriticalPath matches a file against a critical path pattern.
// Glob patterns are tried against the file and each parent directory.
// Plain patterns name a file or a directory subtree.
func MatchCriticalPath(pattern, file string) bool {
	pattern = NormalizePath(strings.TrimSpace(pattern))
	file = NormalizePath(file)
	if pattern == "" || pattern == "." {
		return false
	}
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		return file == dir || strings.HasPrefix(file, dir+"/")
	}
	if strings.ContainsAny(pattern, "*?[") {
		for p := file; p != "." && p != "/" && p != ""; p = path.Dir(p) {
			if ok, _ := path.Match(pattern, p); ok {
				return true
			}
		}
		return false
	}
	return file == pattern || strings.HasPrefix(file, pattern+"/")
}
