package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

// Run statuses.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// maxErrorLen caps stored error messages.
const maxErrorLen = 2000

// ImportRun is one pass of the import pipeline over a source.
type ImportRun struct {
	RunID        string     `json:"run_id"`
	Source       string     `json:"source"`
	GCSURI       string     `json:"gcs_uri,omitempty"`
	Parser       string     `json:"parser,omitempty"`
	Status       string     `json:"status"`
	ImportID     string     `json:"import_id,omitempty"`
	Records      int        `json:"records"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RunResult is what a successful run produced.
type RunResult struct {
	Parser   string
	ImportID string
	Records  int
}

// RunRecorder keeps the log of import runs.
type RunRecorder interface {
	StartRun(ctx context.Context, run ImportRun) error
	MarkRunSucceeded(ctx context.Context, runID string, res RunResult) error
	MarkRunFailed(ctx context.Context, runID string, runErr error)
	ListRuns(ctx context.Context, limit int) ([]ImportRun, error)
}

// TruncateError renders err for storage, capped at a fixed length.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

// MemoryRunLog is an in-process RunRecorder.
type MemoryRunLog struct {
	mu   sync.RWMutex
	runs map[string]*ImportRun
	now  func() time.Time
}

// NewMemoryRunLog creates an empty run log.
func NewMemoryRunLog() *MemoryRunLog {
	return &MemoryRunLog{runs: make(map[string]*ImportRun), now: time.Now}
}

func (m *MemoryRunLog) StartRun(ctx context.Context, run ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Status = RunStatusRunning
	m.runs[run.RunID] = &run
	return nil
}

func (m *MemoryRunLog) MarkRunSucceeded(ctx context.Context, runID string, res RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return &domain.NotFoundError{Kind: "import run", ID: runID}
	}
	finished := m.now().UTC()
	run.Status = RunStatusSuccess
	run.Parser = res.Parser
	run.ImportID = res.ImportID
	run.Records = res.Records
	run.FinishedAt = &finished
	return nil
}

func (m *MemoryRunLog) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return
	}
	finished := m.now().UTC()
	run.Status = RunStatusFailed
	run.ErrorMessage = TruncateError(runErr)
	run.FinishedAt = &finished
}

// ListRuns returns runs newest first; limit <= 0 means all.
func (m *MemoryRunLog) ListRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ImportRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ RunRecorder = (*MemoryRunLog)(nil)
