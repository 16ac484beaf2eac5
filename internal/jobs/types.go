package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeExtractStatement extracts a statement with the language model and stages it.
	JobTypeExtractStatement JobType = "extract_statement"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is waiting for another attempt.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies when a job does not set its own limit.
const DefaultMaxRetries = 3

// ExtractStatementJob extracts transactions from a statement that rigid
// parsing cannot read and stages them as an import.
type ExtractStatementJob struct {
	JobID string `json:"job_id"`

	// Source is the label shown on the staged import.
	Source string `json:"source"`

	// GCSURI points at the stored statement; Text carries pasted content instead.
	GCSURI   string `json:"gcs_uri,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"-"`

	// ImportID is set once the extracted records are staged.
	ImportID string `json:"import_id,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// Type returns the job type.
func (j *ExtractStatementJob) Type() JobType {
	return JobTypeExtractStatement
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	PublishExtractStatement(ctx context.Context, job *ExtractStatementJob) error
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs; handler is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. It may set job.ImportID; a returned error
// makes the job eligible for retry.
type JobHandler func(ctx context.Context, job *ExtractStatementJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	SaveJob(ctx context.Context, job *ExtractStatementJob) error
	GetJob(ctx context.Context, jobID string) (*ExtractStatementJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ExtractStatementJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}
