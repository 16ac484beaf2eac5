package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ExtractStatementJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s did not reach %s, last state %+v", jobID, want, job)
	return nil
}

func TestQueue_CompletesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store)
	defer q.Close()

	if err := q.Start(ctx, func(ctx context.Context, job *jobs.ExtractStatementJob) error {
		job.ImportID = "import-1"
		return nil
	}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	job := &jobs.ExtractStatementJob{Source: "feb.pdf", GCSURI: "gs://b/feb.pdf"}
	if err := q.PublishExtractStatement(ctx, job); err != nil {
		t.Fatalf("PublishExtractStatement() error: %v", err)
	}
	if job.JobID == "" || job.MaxRetries != jobs.DefaultMaxRetries || job.Status != jobs.JobStatusPending {
		t.Errorf("published job defaults = %+v", job)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.ImportID != "import-1" || done.CompletedAt == nil || done.Error != "" {
		t.Errorf("completed job = %+v", done)
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithWorkers(1), WithBackoff(time.Millisecond))
	defer q.Close()

	var attempts int32
	if err := q.Start(ctx, func(ctx context.Context, job *jobs.ExtractStatementJob) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("model overloaded")
		}
		return nil
	}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	job := &jobs.ExtractStatementJob{Source: "x"}
	if err := q.PublishExtractStatement(ctx, job); err != nil {
		t.Fatalf("PublishExtractStatement() error: %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", done.RetryCount)
	}
}

func TestQueue_FailsAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithBackoff(time.Millisecond))
	defer q.Close()

	if err := q.Start(ctx, func(ctx context.Context, job *jobs.ExtractStatementJob) error {
		return errors.New("unreadable statement")
	}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	job := &jobs.ExtractStatementJob{Source: "x", MaxRetries: 1}
	if err := q.PublishExtractStatement(ctx, job); err != nil {
		t.Fatalf("PublishExtractStatement() error: %v", err)
	}

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.Error != "unreadable statement" || failed.RetryCount != 1 {
		t.Errorf("failed job = %+v", failed)
	}
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(1, NewStore())
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := q.PublishExtractStatement(context.Background(), &jobs.ExtractStatementJob{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("PublishExtractStatement() error = %v, want ErrQueueClosed", err)
	}
	if err := q.Start(context.Background(), nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Start() error = %v, want ErrQueueClosed", err)
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []jobs.JobStatus{jobs.JobStatusCompleted, jobs.JobStatusFailed, jobs.JobStatusCompleted} {
		job := &jobs.ExtractStatementJob{
			JobID:     string(rune('a' + i)),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob() error: %v", err)
		}
	}

	if err := s.SaveJob(ctx, &jobs.ExtractStatementJob{}); !domain.IsValidation(err) {
		t.Errorf("SaveJob() without id error = %v, want ValidationError", err)
	}
	if _, err := s.GetJob(ctx, "zzz"); !domain.IsNotFound(err) {
		t.Errorf("GetJob() error = %v, want NotFoundError", err)
	}

	all, _ := s.ListJobs(ctx, jobs.JobFilter{})
	if len(all) != 3 || all[0].JobID != "c" || all[2].JobID != "a" {
		t.Errorf("ListJobs() order = %v, want newest first", ids(all))
	}

	completed, _ := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted, Limit: 1})
	if len(completed) != 1 || completed[0].JobID != "c" {
		t.Errorf("ListJobs(completed, limit 1) = %v", ids(completed))
	}

	paged, _ := s.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	if len(paged) != 0 {
		t.Errorf("ListJobs(offset past end) = %v", ids(paged))
	}

	got, _ := s.GetJob(ctx, "a")
	got.Status = jobs.JobStatusRunning
	again, _ := s.GetJob(ctx, "a")
	if again.Status != jobs.JobStatusCompleted {
		t.Error("GetJob() returned a shared pointer")
	}
}

func ids(js []*jobs.ExtractStatementJob) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = j.JobID
	}
	return out
}
