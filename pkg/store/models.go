package store

import "time"

// Report is the durable record of one completed research run.
type Report struct {
	ID                  int64
	Query               string
	CostPreference      string
	AudienceLevel       string
	OutputFormat        string
	IncludeSources      bool
	MaxLength           *int
	FinalReport         string
	DurationMS          int64
	IterationCount      int
	SubqueryCount       int
	Usage               Usage
	BasedOnPastReportIDs []int64
	AccuracyScore       *float64
	FactCheckNotes      *string
	QueryEmbedding      []float64
	EmbeddingVersion    string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Feedback            []Feedback
}

// Usage is the aggregated token accounting shape shared by providers,
// research stage results, and persisted reports.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Feedback is one append-only rating entry against a report.
type Feedback struct {
	ID        int64
	ReportID  int64
	Rating    int
	Comment   *string
	CreatedAt time.Time
}

// SimilarReport is a Report paired with its cosine similarity to a query.
type SimilarReport struct {
	Report     Report
	Similarity float64
}

// JobStatus is the closed set of states a Job moves through.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Job is the persisted unit of asynchronous work dispatched through the
// Control Protocol's async tools.
type Job struct {
	ID             string
	Type           string
	Params         map[string]any
	Status         JobStatus
	ProgressPct    int
	ProgressMsg    string
	Result         map[string]any
	Canceled       bool
	IdempotencyKey *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	HeartbeatAt    *time.Time
}

// Terminal reports whether the job has reached one of its terminal states.
func (j Job) Terminal() bool {
	switch j.Status {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	}
	return false
}

// JobEvent is one append-only, monotonically-id'd event in a job's log.
// EventType values are defined in pkg/events as the closed set referenced
// by spec §6; Store treats the field as an opaque string.
type JobEvent struct {
	ID        int64
	JobID     string
	EventType string
	Payload   map[string]any
	CreatedAt time.Time
}

// IndexDocument is one entry in the hybrid BM25/vector index.
type IndexDocument struct {
	ID           int64
	SourceType   string
	SourceID     string
	Title        string
	Content      string
	DocLen       int
	DocEmbedding []float64
	CreatedAt    time.Time
}

// ConvergenceStatus buckets a tool's recent success rate per spec §4.1.
type ConvergenceStatus string

const (
	ConvergenceConverged      ConvergenceStatus = "converged"
	ConvergenceNear           ConvergenceStatus = "near_convergence"
	ConvergenceImproving      ConvergenceStatus = "improving"
	ConvergenceLearning       ConvergenceStatus = "learning"
	ConvergenceDivergent      ConvergenceStatus = "divergent"
)

// ConvergenceMetrics is the aggregate health report produced by
// getConvergenceMetrics over a sliding window.
type ConvergenceMetrics struct {
	WindowHours      int
	ConvergenceRate  float64
	Status           ConvergenceStatus
	TotalCalls       int64
	Successes        int64
	PerTool          []ToolMetrics
	TopErrorCategories []ErrorCategoryCount
}

// ToolMetrics is one tool's breakdown within ConvergenceMetrics.
type ToolMetrics struct {
	ToolName    string
	Calls       int64
	SuccessRate float64
	AvgLatencyMS float64
}

// ErrorCategoryCount is a (category, count) pair for top-k error reporting.
type ErrorCategoryCount struct {
	Category string
	Count    int64
}

// ToolObservation is one append-only record of a tool invocation's outcome,
// feeding convergence metrics.
type ToolObservation struct {
	ToolName      string
	InputHash     string
	OutputHash    *string
	Success       bool
	LatencyMS     int64
	ErrorCategory *string
	ErrorCode     *string
	RequestID     *string
}
