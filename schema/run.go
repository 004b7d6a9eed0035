package schema

import "time"

// ProgressVersion is the current version of the progress document.
const ProgressVersion = 1

// AnalysisRun identifies one (org, user, year) execution.
type AnalysisRun struct {
	ID         string     `json:"id"`
	Org        string     `json:"org"`
	User       string     `json:"user"`
	Year       int        `json:"year"`
	Status     RunStatus  `json:"status"`
	Phase      Phase      `json:"phase"`
	Progress   Progress   `json:"progress"`
	Error      string     `json:"error,omitempty"`
	Options    RunOptions `json:"options"`
	// Lease counts the phase executions of the run. Executing is set while
	// the execution holding the current lease is inside a phase.
	Lease      int64      `json:"lease"`
	Executing  bool       `json:"executing,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// RunOptions are the versioned settings a run was created with, so that
// year-over-year reports can be compared.
type RunOptions struct {
	OptionsVersion int    `json:"optionsVersion"`
	PromptVersion  string `json:"promptVersion"`
	Model          string `json:"model,omitempty"`
	Seed           uint64 `json:"seed"`
	TopK           int    `json:"topK"`
	Random         int    `json:"random"`
	Special        int    `json:"special"`
}

// Progress is the durable checkpoint of a run.
type Progress struct {
	Version      int             `json:"version"`
	Phase        Phase           `json:"phase"`
	Total        int             `json:"total"`
	Completed    int             `json:"completed"`
	Failed       int             `json:"failed"`
	Message      string          `json:"message"`
	RepoProgress []RepoProgress  `json:"repoProgress"`
	UnitProgress []UnitProgress  `json:"unitProgress,omitempty"`
	Stages       []StageProgress `json:"stages,omitempty"`
	FailureKind  FailureKind     `json:"failureKind,omitempty"`
	Stats        *RunStats       `json:"stats,omitempty"`

	// Metrics is computed once in the METRICS phase and carried to the report.
	Metrics *DeveloperMetrics `json:"metrics,omitempty"`
}

// RepoProgress is the per-repo status inside a phase.
type RepoProgress struct {
	RepoName    string     `json:"repoName"`
	Status      ItemStatus `json:"status"`
	CommitCount *int       `json:"commitCount,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// UnitProgress is the per-unit status during stage 1 review.
type UnitProgress struct {
	UnitID   string     `json:"unitId"`
	Status   ItemStatus `json:"status"`
	Attempts int        `json:"attempts,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// StageProgress is the status of a run-level AI stage.
type StageProgress struct {
	Stage  AiStage    `json:"stage"`
	Status ItemStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// RunStats summarizes what a run produced, including partial coverage.
type RunStats struct {
	Repos         int    `json:"repos"`
	ReposFailed   int    `json:"reposFailed"`
	Commits       int    `json:"commits"`
	Units         int    `json:"units"`
	SpecialUnits  int    `json:"specialUnits"`
	SampledUnits  int    `json:"sampledUnits"`
	ReviewedUnits int    `json:"reviewedUnits"`
	FailedReviews int    `json:"failedReviews"`
	DiffsFetched  int    `json:"diffsFetched"`
	DiffCacheHits int    `json:"diffCacheHits"`
	PartialDiffs  int    `json:"partialDiffs"`
	HotspotFiles  int    `json:"hotspotFiles"`
	PromptVersion string `json:"promptVersion,omitempty"`
}

// Percentage estimates overall completion across all phases.
func (p Progress) Percentage(status RunStatus) float64 {
	if status == RunDone {
		return 100
	}
	idx := p.Phase.Index()
	if idx < 0 {
		return 0
	}
	within := 0.0
	if p.Total > 0 {
		within = float64(p.Completed+p.Failed) / float64(p.Total)
		if within > 1 {
			within = 1
		}
	}
	return RoundScore((float64(idx) + within) / float64(len(AllPhases)) * 100)
}

// RepoStatus returns the status recorded for a repo and whether it exists.
func (p Progress) RepoStatus(repo string) (ItemStatus, bool) {
	for _, r := range p.RepoProgress {
		if r.RepoName == repo {
			return r.Status, true
		}
	}
	return "", false
}

// RunStatusView is what pollers see.
type RunStatusView struct {
	ID           string         `json:"id"`
	Org          string         `json:"org"`
	User         string         `json:"user"`
	Year         int            `json:"year"`
	Status       RunStatus      `json:"status"`
	Phase        Phase          `json:"phase"`
	Percentage   float64        `json:"percentage"`
	Message      string         `json:"message"`
	RepoProgress []RepoProgress `json:"repoProgress"`
	FailureKind  FailureKind    `json:"failureKind,omitempty"`
	Error        string         `json:"error,omitempty"`
	Stats        *RunStats      `json:"stats,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// View builds the polling view of a run.
func (r AnalysisRun) View() RunStatusView {
	return RunStatusView{
		ID:           r.ID,
		Org:          r.Org,
		User:         r.User,
		Year:         r.Year,
		Status:       r.Status,
		Phase:        r.Phase,
		Percentage:   r.Progress.Percentage(r.Status),
		Message:      r.Progress.Message,
		RepoProgress: r.Progress.RepoProgress,
		FailureKind:  r.Progress.FailureKind,
		Error:        r.Error,
		Stats:        r.Progress.Stats,
		UpdatedAt:    r.UpdatedAt,
	}
}

// RunFilter narrows run listings. Zero values match everything.
type RunFilter struct {
	Org    string
	User   string
	Year   int
	Status RunStatus
}
