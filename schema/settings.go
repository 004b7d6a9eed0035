package schema

import "time"

// ClusterSettings control how commits are grouped into work units.
type ClusterSettings struct {
	RapidGap      time.Duration `json:"rapidGap"`
	LongGap       time.Duration `json:"longGap"`
	MinSimilarity float64       `json:"minSimilarity"`
	PrefixDepth   int           `json:"prefixDepth"`
}

// ScoreSettings are the per-component caps of the impact score.
type ScoreSettings struct {
	SizeCap        float64 `json:"sizeCap"`
	SizeSaturation float64 `json:"sizeSaturation"`
	CommitLineCap  int     `json:"commitLineCap"`
	CoreCap        float64 `json:"coreCap"`
	HotspotCap     float64 `json:"hotspotCap"`
	ConfigBonus    float64 `json:"configBonus"`
	TestCap        float64 `json:"testCap"`
}

// SampleSettings size the review sample.
type SampleSettings struct {
	TopK    int `json:"topK"`
	Random  int `json:"random"`
	Special int `json:"special"`
}

// HotspotSettings define the org-wide trailing window.
type HotspotSettings struct {
	Window time.Duration `json:"window"`
	Limit  int           `json:"limit"`
}

// MaxImpactScore is the upper bound of every impact score.
const MaxImpactScore = 100.0

// DefaultClusterSettings returns the calibrated clustering defaults.
func DefaultClusterSettings() ClusterSettings {
	return ClusterSettings{
		RapidGap:      2 * time.Hour,
		LongGap:       48 * time.Hour,
		MinSimilarity: 0.2,
		PrefixDepth:   2,
	}
}

// DefaultScoreSettings returns the default component caps.
func DefaultScoreSettings() ScoreSettings {
	return ScoreSettings{
		SizeCap:        40,
		SizeSaturation: 2000,
		CommitLineCap:  1500,
		CoreCap:        25,
		HotspotCap:     15,
		ConfigBonus:    10,
		TestCap:        10,
	}
}

// DefaultSampleSettings returns K=7, R=3, S=2.
func DefaultSampleSettings() SampleSettings {
	return SampleSettings{TopK: 7, Random: 3, Special: 2}
}

// DefaultHotspotSettings returns a 90 day window with the top 50 files.
func DefaultHotspotSettings() HotspotSettings {
	return HotspotSettings{Window: 90 * 24 * time.Hour, Limit: 50}
}

// Ceiling is the largest sample the settings can produce.
func (s SampleSettings) Ceiling() int {
	return s.TopK + s.Random + s.Special
}
