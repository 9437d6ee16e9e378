package dispatch

import "time"

// RoundLifecycle is the lifecycle state of a round (spec §3, invariant R1).
type RoundLifecycle string

// Round lifecycle values.
const (
	LifecyclePending   RoundLifecycle = "pending"
	LifecycleActive    RoundLifecycle = "active"
	LifecycleCompleted RoundLifecycle = "completed"
)

// SourceType describes where a round's paths came from.
type SourceType string

// Source types.
const (
	SourceFile   SourceType = "file"
	SourceFolder SourceType = "folder"
	SourceManual SourceType = "manual"
)

// ImportOptions configures round creation (spec §6 import).
type ImportOptions struct {
	Name       string
	SourceType SourceType
	SourceHint string
	Activate   *bool // nil = default policy (spec §4.3 Round creation)

	// TargetRoundID, when set, merges the imported paths into an
	// existing known round instead of creating a new one (spec §8
	// scenario 2: re-importing a path already tracked by a non-failed
	// task in that round is skipped, everything else is added).
	TargetRoundID string
}

// ImportResult is returned by Import.
type ImportResult struct {
	RoundID string         `json:"roundId"`
	Name    string         `json:"name"`
	Counts  Counts         `json:"counts"`
	Added   int            `json:"added"`
	Skipped int            `json:"skipped"`
	Status  RoundLifecycle `json:"status"`
}

// LeaseItem is one leased task handed back to a worker.
type LeaseItem struct {
	TaskID  string `json:"taskId"`
	RoundID string `json:"roundId"`
	Path    string `json:"path"`
}

// RoundSummary is the listRounds view of one round.
type RoundSummary struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SourceType   SourceType     `json:"sourceType"`
	SourceHint   string         `json:"sourceHint,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	ActivatedAt  *time.Time     `json:"activatedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	Status       RoundLifecycle `json:"status"`
	Counts       Counts         `json:"counts"`
	Stats        RunStats       `json:"stats"`
}

// InspectResult aggregates processing inspection across touched rounds
// (spec §4.3 Processing inspection).
type InspectResult struct {
	Aggregate     ProcessingReport  `json:"aggregate"`
	SelectedRound *ProcessingReport `json:"selectedRound,omitempty"`
}

// NodesResult is the listNodes response.
type NodesResult struct {
	Nodes   []NodeView  `json:"nodes"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	Size    int         `json:"pageSize"`
	Summary NodeSummary `json:"summary"`
}

// FailedTaskRecord is one row of exportFailed.
type FailedTaskRecord struct {
	RoundID      string    `json:"roundId"`
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	FailureCount int       `json:"failureCount"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ListFilter selects which task bucket listTasks returns.
type ListFilter string

// List filters.
const (
	FilterPending    ListFilter = "pending"
	FilterProcessing ListFilter = "processing"
	FilterCompleted  ListFilter = "completed"
	FilterFailed     ListFilter = "failed"
	FilterAll        ListFilter = "all"
)

// ProcessedInfo is the payload recordNodeProcessedInfo accepts.
type ProcessedInfo struct {
	NodeID      string
	ItemNum     float64
	RunningTime float64
}

// TriggerReportResult is returned by triggerReport.
type TriggerReportResult struct {
	OK     bool                 `json:"ok"`
	Reason WebhookFailureReason `json:"reason,omitempty"`
}
