// Package schema has the models shared by the pipeline, the run store and every output surface of devyear.
package schema

// Custom string types for type safety.
type (
	// RunStatus is the lifecycle status of an analysis run.
	RunStatus string

	// Phase is a pipeline stage of an analysis run.
	Phase string

	// WorkType classifies the kind of work a unit represents.
	WorkType string

	// RetryMode selects how a stopped run is recovered.
	RetryMode string

	// ItemStatus is the status of a repo, unit or stage inside a phase.
	ItemStatus string

	// FailureKind distinguishes recoverable failures from fatal ones.
	FailureKind string

	// SampleReason records why a unit was selected for review.
	SampleReason string

	// OutputMode represents the format of the output.
	OutputMode string

	// DatabaseBackend represents the database backend for the run store.
	DatabaseBackend string

	// AiStage is the numbered stage of the AI review state machine.
	AiStage int
)

// All run statuses supported.
const (
	RunQueued     RunStatus = "QUEUED"
	RunInProgress RunStatus = "IN_PROGRESS"
	RunPaused     RunStatus = "PAUSED"
	RunDone       RunStatus = "DONE"
	RunFailed     RunStatus = "FAILED"
)

// Pipeline phases in execution order.
const (
	PhaseMetrics    Phase = "METRICS"
	PhaseClustering Phase = "CLUSTERING"
	PhaseScoring    Phase = "SCORING"
	PhaseSampling   Phase = "SAMPLING"
	PhaseDiffFetch  Phase = "DIFF_FETCH"
	PhaseAIAnalysis Phase = "AI_ANALYSIS"
)

// AllPhases lists phases in the only order they may run.
var AllPhases = []Phase{PhaseMetrics, PhaseClustering, PhaseScoring, PhaseSampling, PhaseDiffFetch, PhaseAIAnalysis}

// Work types.
const (
	BugfixWork   WorkType = "bugfix"
	FeatureWork  WorkType = "feature"
	RefactorWork WorkType = "refactor"
	ChoreWork    WorkType = "chore"
	DocsWork     WorkType = "docs"
	TestWork     WorkType = "test"
)

// WorkTypePriority breaks ties in the work type vote, highest first.
var WorkTypePriority = []WorkType{BugfixWork, FeatureWork, RefactorWork, ChoreWork, DocsWork, TestWork}

// Retry modes.
const (
	RetryResume      RetryMode = "RESUME"
	RetryFailed      RetryMode = "RETRY"
	RetryFullRestart RetryMode = "FULL_RESTART"
)

// ValidRetryModes lists all valid retry modes.
var ValidRetryModes = map[RetryMode]struct{}{
	RetryResume:      {},
	RetryFailed:      {},
	RetryFullRestart: {},
}

// Item statuses used in progress documents.
const (
	ItemPending ItemStatus = "pending"
	ItemDone    ItemStatus = "done"
	ItemFailed  ItemStatus = "failed"
	ItemSkipped ItemStatus = "skipped"
)

// Failure kinds.
const (
	FailureNone        FailureKind = ""
	FailureRecoverable FailureKind = "recoverable"
	FailureFatal       FailureKind = "fatal"
	FailureCancelled   FailureKind = "cancelled"
)

// Sample reasons.
const (
	SampleTop     SampleReason = "top"
	SampleRandom  SampleReason = "random"
	SampleSpecial SampleReason = "special"
)

// AI review stages.
const (
	StageSampling    AiStage = 0
	StageUnitReview  AiStage = 1
	StageWorkPattern AiStage = 2
	StageGrowth      AiStage = 3
	StageExecutive   AiStage = 4
)

// RunLevelStages are the single-call stages that follow unit review.
var RunLevelStages = []AiStage{StageWorkPattern, StageGrowth, StageExecutive}

// All output modes supported.
const (
	CSVOut  OutputMode = "csv"
	TextOut OutputMode = "text" // default
	JSONOut OutputMode = "json"
)

// ValidOutputModes lists all valid output modes.
var ValidOutputModes = map[OutputMode]struct{}{
	CSVOut:  {},
	TextOut: {},
	JSONOut: {},
}

// All database backends supported.
const (
	SQLiteBackend     DatabaseBackend = "sqlite" // default
	MySQLBackend      DatabaseBackend = "mysql"
	PostgreSQLBackend DatabaseBackend = "postgresql"
)

// ValidDatabaseBackends lists all valid database backends.
var ValidDatabaseBackends = map[DatabaseBackend]struct{}{
	SQLiteBackend:     {},
	MySQLBackend:      {},
	PostgreSQLBackend: {},
}

// Index returns the position of the phase in AllPhases, or -1.
func (p Phase) Index() int {
	for i, ph := range AllPhases {
		if ph == p {
			return i
		}
	}
	return -1
}

// Next returns the phase after p. The second value is false for the last phase.
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i+1 >= len(AllPhases) {
		return p, false
	}
	return AllPhases[i+1], true
}

// IsTerminal reports whether no further work happens without an explicit action.
func (s RunStatus) IsTerminal() bool {
	return s == RunDone || s == RunFailed
}

// Name returns a short display name for the stage.
func (s AiStage) Name() string {
	switch s {
	case StageSampling:
		return "sampling"
	case StageUnitReview:
		return "unit-review"
	case StageWorkPattern:
		return "work-pattern"
	case StageGrowth:
		return "growth"
	case StageExecutive:
		return "executive"
	default:
		return "unknown"
	}
}
