package schema

import (
	"encoding/json"
	"time"
)

// Review record statuses.
const (
	ReviewOK     = "ok"
	ReviewFailed = "failed"
)

// AiReview is one stored stage result. UnitID is empty for run-level stages.
type AiReview struct {
	RunID         string          `json:"runId"`
	Stage         AiStage         `json:"stage"`
	UnitID        string          `json:"unitId,omitempty"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	Model         string          `json:"model,omitempty"`
	PromptVersion string          `json:"promptVersion"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// OK reports whether the stage produced a usable result.
func (r AiReview) OK() bool {
	return r.Status == ReviewOK
}

// UnitReview is the stage 1 code-quality review of one unit.
type UnitReview struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Quality     int      `json:"quality"`
	Complexity  string   `json:"complexity"`
	Strengths   []string `json:"strengths"`
	Concerns    []string `json:"concerns"`
	Standards   []string `json:"standards,omitempty"`
	PartialDiff bool     `json:"partialDiff,omitempty"`
}

// WorkPattern is the stage 2 aggregate analysis.
type WorkPattern struct {
	Themes          []string `json:"themes"`
	DominantWork    WorkType `json:"dominantWork"`
	AverageQuality  float64  `json:"averageQuality"`
	Consistency     string   `json:"consistency"`
	ReviewedUnits   int      `json:"reviewedUnits"`
	UnreviewedUnits int      `json:"unreviewedUnits"`
}

// GrowthInsight is the stage 3 synthesis.
type GrowthInsight struct {
	Growth        []string `json:"growth"`
	Opportunities []string `json:"opportunities"`
}

// ExecutiveSummary is the stage 4 synthesis feeding the report.
type ExecutiveSummary struct {
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	ActionItems  []string `json:"actionItems"`
}

// CommitBrief is the part of a commit a reviewer sees next to its diff.
type CommitBrief struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

// UnitReviewInput is the payload sent to the unit review stage.
type UnitReviewInput struct {
	UnitID        string        `json:"unitId"`
	Repo          string        `json:"repo"`
	Title         string        `json:"title"`
	WorkType      WorkType      `json:"workType"`
	ImpactScore   float64       `json:"impactScore"`
	Commits       []CommitBrief `json:"commits"`
	Files         []FilePatch   `json:"files"`
	PartialDiff   bool          `json:"partialDiff"`
	Truncated     bool          `json:"truncated"`
	TeamStandards string        `json:"teamStandards,omitempty"`
}

// ReviewedUnit pairs a unit with its successful stage 1 review.
type ReviewedUnit struct {
	UnitID      string     `json:"unitId"`
	Repo        string     `json:"repo"`
	WorkType    WorkType   `json:"workType"`
	ImpactScore float64    `json:"impactScore"`
	Review      UnitReview `json:"review"`
}

// SynthesisInput is the payload of the run-level stages. Each stage sees
// the results of the stages before it.
type SynthesisInput struct {
	User            string            `json:"user"`
	Year            int               `json:"year"`
	Metrics         DeveloperMetrics  `json:"metrics"`
	Units           []ReviewedUnit    `json:"units"`
	UnreviewedUnits int               `json:"unreviewedUnits"`
	Pattern         *WorkPattern      `json:"pattern,omitempty"`
	Growth          *GrowthInsight    `json:"growth,omitempty"`
	Executive       *ExecutiveSummary `json:"executive,omitempty"`
	TeamStandards   string            `json:"teamStandards,omitempty"`
}
