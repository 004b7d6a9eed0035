package schema

import (
	"math"
	"time"
)

// ImpactFactors is the auditable breakdown behind an impact score.
// The first five fields are score components; the rest explain them.
type ImpactFactors struct {
	Size         float64 `json:"size"`
	CoreModule   float64 `json:"coreModule"`
	Hotspot      float64 `json:"hotspot"`
	ConfigSchema float64 `json:"configSchema"`
	TestRatio    float64 `json:"testRatio"`

	ChangedLines         int      `json:"changedLines"`
	DampedLines          int      `json:"dampedLines"`
	TestLineRatio        float64  `json:"testLineRatio"`
	MatchedCriticalPaths []string `json:"matchedCriticalPaths,omitempty"`
	HotspotFiles         []string `json:"hotspotFiles,omitempty"`
	ConfigFiles          []string `json:"configFiles,omitempty"`
}

// Sum adds up the score components without clamping.
func (f ImpactFactors) Sum() float64 {
	return f.Size + f.CoreModule + f.Hotspot + f.ConfigSchema + f.TestRatio
}

// WorkUnit is a cluster of commits by one author in one repository.
type WorkUnit struct {
	ID            string        `json:"id"`
	RunID         string        `json:"runId"`
	Repo          string        `json:"repo"`
	Author        string        `json:"author"`
	CommitSHAs    []string      `json:"commitShas"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	WorkType      WorkType      `json:"workType"`
	ImpactScore   float64       `json:"impactScore"`
	Factors       ImpactFactors `json:"impactFactors"`
	IsSampled     bool          `json:"isSampled"`
	IsSpecialCase bool          `json:"isSpecialCase"`
	Title         string        `json:"title"`
	Summary       string        `json:"summary,omitempty"`
	Additions     int           `json:"additions"`
	Deletions     int           `json:"deletions"`
	Files         []string      `json:"files"`
}

// ChangedLines returns the unit's additions plus deletions.
func (u WorkUnit) ChangedLines() int {
	return u.Additions + u.Deletions
}

// Duration is the time between the first and last commit.
func (u WorkUnit) Duration() time.Duration {
	return u.EndTime.Sub(u.StartTime)
}

// SelectedUnit is one entry of a sampling decision.
type SelectedUnit struct {
	UnitID string       `json:"unitId"`
	Reason SampleReason `json:"reason"`
	Rank   int          `json:"rank"`
	Score  float64      `json:"score"`
}

// SampleDecision is the persisted outcome of sampling, stored as the stage 0 record.
type SampleDecision struct {
	Seed     uint64         `json:"seed"`
	Total    int            `json:"total"`
	TopK     int            `json:"topK"`
	Random   int            `json:"random"`
	Special  int            `json:"special"`
	Selected []SelectedUnit `json:"selected"`
}

// UnitIDs returns the selected unit ids in selection order.
func (d SampleDecision) UnitIDs() []string {
	ids := make([]string, 0, len(d.Selected))
	for _, s := range d.Selected {
		ids = append(ids, s.UnitID)
	}
	return ids
}

// RoundScore rounds a score to two decimal places.
func RoundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
