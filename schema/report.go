package schema

import "time"

// NameCount is a labelled count used in metric breakdowns.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DeveloperMetrics is the per-developer snapshot for one year.
type DeveloperMetrics struct {
	TotalCommits        int         `json:"totalCommits"`
	Additions           int         `json:"additions"`
	Deletions           int         `json:"deletions"`
	ActiveDays          int         `json:"activeDays"`
	ActiveWeeks         int         `json:"activeWeeks"`
	LongestStreakDays   int         `json:"longestStreakDays"`
	CommitsPerActiveDay float64     `json:"commitsPerActiveDay"`
	ReposTouched        int         `json:"reposTouched"`
	FilesTouched        int         `json:"filesTouched"`
	CommitsByMonth      [12]int     `json:"commitsByMonth"`
	CommitsByWeekday    [7]int      `json:"commitsByWeekday"`
	TopRepos            []NameCount `json:"topRepos,omitempty"`
	TopDirectories      []NameCount `json:"topDirectories,omitempty"`
	TopExtensions       []NameCount `json:"topExtensions,omitempty"`
	FirstCommit         *time.Time  `json:"firstCommit,omitempty"`
	LastCommit          *time.Time  `json:"lastCommit,omitempty"`
}

// YearlyReport is the final synthesis for a run.
type YearlyReport struct {
	RunID        string           `json:"runId"`
	User         string           `json:"user"`
	Year         int              `json:"year"`
	Metrics      DeveloperMetrics `json:"metrics"`
	Summary      string           `json:"summary"`
	Strengths    []string         `json:"strengths"`
	Improvements []string         `json:"improvements"`
	ActionItems  []string         `json:"actionItems"`
	Stats        RunStats         `json:"stats"`
	ManagerNotes string           `json:"managerNotes,omitempty"`
	Finalized    bool             `json:"finalized"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// CriticalPath weights files matching Pattern.
type CriticalPath struct {
	Pattern string  `json:"pattern" yaml:"pattern"`
	Weight  float64 `json:"weight" yaml:"weight"`
}

// OrgSettings are the organization-level review settings.
type OrgSettings struct {
	CriticalPaths      []CriticalPath `json:"criticalPaths" yaml:"criticalPaths"`
	DefaultReviewModel string         `json:"defaultReviewModel" yaml:"defaultReviewModel"`
	TeamStandards      string         `json:"teamStandards" yaml:"teamStandards"`
}
