package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/blob"
)

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*Job)}
}

func (m *memJobStore) Create(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.State == "" {
		job.State = StateSubmitted
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobStore) Get(_ context.Context, jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobStore) FindActiveByTarget(_ context.Context, targetID string, targetType string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.TargetID == targetID && job.TargetType == targetType &&
			(job.State == StateSubmitted || job.State == StateRunning) {
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memJobStore) setState(jobID string, state string, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if IsTerminal(job.State) {
		return fmt.Errorf("job %s already terminal", jobID)
	}
	job.State = state
	job.Error = cause
	return nil
}

func (m *memJobStore) MarkRunning(_ context.Context, jobID string) error {
	return m.setState(jobID, StateRunning, "")
}

func (m *memJobStore) MarkCompleted(_ context.Context, jobID string) error {
	return m.setState(jobID, StateCompleted, "")
}

func (m *memJobStore) MarkFailed(_ context.Context, jobID string, cause string) error {
	return m.setState(jobID, StateFailed, cause)
}

func (m *memJobStore) MarkCanceled(_ context.Context, jobID string) error {
	return m.setState(jobID, StateCanceled, "")
}

func (m *memJobStore) SaveProgress(_ context.Context, jobID string, stage string, artifacts map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if IsTerminal(job.State) {
		return ErrCanceled
	}
	job.Stage = stage
	job.Artifacts = artifacts
	return nil
}

func (m *memJobStore) RecoverStale(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func newTestRunner(t *testing.T, jobs JobStore, blobs blob.Store) *Runner {
	t.Helper()
	r, err := NewRunner(NewRunnerParams{
		Jobs:    jobs,
		Blobs:   blobs,
		Backoff: util.BackoffOptions{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	return r
}

func writeStage(name string, key string, ran *[]string) Stage {
	return Stage{
		Name:    name,
		Outputs: []string{key},
		Run: func(ctx context.Context, rc *RunContext) error {
			*ran = append(*ran, name)
			artifact := name + ".parquet"
			if err := rc.Blobs.Put(ctx, artifact, []byte(name)); err != nil {
				return err
			}
			rc.SetArtifact(key, artifact)
			return nil
		},
	}
}

func TestRunnerHappyPath(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobStore()
	blobs := blob.NewMemoryStore()
	runner := newTestRunner(t, jobs, blobs)

	job := &Job{ID: "job-1", TargetID: "tgt", TargetType: "hotel", Operation: "index"}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var ran []string
	stages := []Stage{
		writeStage("collect", "units", &ran),
		writeStage("extract", "graph", &ran),
	}
	if err := runner.Run(ctx, job, stages); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	final, _ := jobs.Get(ctx, "job-1")
	if final.State != StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", final.State)
	}
	if len(ran) != 2 {
		t.Fatalf("ran %v, want both stages", ran)
	}
}

func TestRunnerResumeSkipsCompletedStages(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobStore()
	blobs := blob.NewMemoryStore()
	runner := newTestRunner(t, jobs, blobs)

	// Simulate a previous run that finished stage one.
	if err := blobs.Put(ctx, "collect.parquet", []byte("x")); err != nil {
		t.Fatal(err)
	}
	job := &Job{
		ID: "job-2", TargetID: "tgt", TargetType: "hotel", Operation: "index",
		Artifacts: map[string]string{"units": "collect.parquet"},
	}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	var ran []string
	stages := []Stage{
		writeStage("collect", "units", &ran),
		writeStage("extract", "graph", &ran),
	}
	if err := runner.Run(ctx, job, stages); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(ran) != 1 || ran[0] != "extract" {
		t.Fatalf("ran %v, want only extract", ran)
	}
}

func TestRunnerStaleArtifactReruns(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobStore()
	blobs := blob.NewMemoryStore()
	runner := newTestRunner(t, jobs, blobs)

	// The artifact map references a blob that no longer exists.
	job := &Job{
		ID: "job-3", TargetID: "tgt", TargetType: "hotel", Operation: "index",
		Artifacts: map[string]string{"units": "gone.parquet"},
	}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	var ran []string
	if err := runner.Run(ctx, job, []Stage{writeStage("collect", "units", &ran)}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(ran) != 1 {
		t.Fatalf("stage must rerun when its artifact blob is missing, ran %v", ran)
	}
}

func TestRunnerRetriesRetryableFailures(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobStore()
	runner := newTestRunner(t, jobs, blob.NewMemoryStore())

	job := &Job{ID: "job-4", TargetID: "tgt", TargetType: "hotel", Operation: "index"}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	attempts := 0
	stage := Stage{
		Name: "flaky",
		Run: func(context.Context, *RunContext) error {
			attempts++
			if attempts < 3 {
				return Retryable(errors.New("transient"))
			}
			return nil
		},
	}
	if err := runner.Run(ctx, job, []Stage{stage}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRunnerPermanentFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobStore()
	runner := newTestRunner(t, jobs, blob.NewMemoryStore())

	job := &Job{ID: "job-5", TargetID: "tgt", TargetType: "hotel", Operation: "index"}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	attempts := 0
	stage := Stage{
		Name: "broken",
		Run: func(context.Context, *RunContext) error {
			attempts++
			return errors.New("schema mismatch")
		},
	}
	err := runner.Run(ctx, job, []Stage{stage})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("permanent failure must not retry, attempts = %d", attempts)
	}

	final, _ := jobs.Get(ctx, "job-5")
	if final.State != StateFailed {
		t.Fatalf("state = %s, want FAILED", final.State)
	}
	if final.Error == "" {
		t.Fatal("failure cause must be recorded")
	}
}

func TestRunnerStopsWhenJobMarkedCanceled(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobStore()
	runner := newTestRunner(t, jobs, blob.NewMemoryStore())

	job := &Job{ID: "job-7", TargetID: "tgt", TargetType: "hotel", Operation: "index"}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	// The job is canceled while the first stage is still executing, the way
	// a DELETE on the target does. The runner must notice at the boundary
	// and never reach the second stage.
	var ran []string
	stages := []Stage{
		{
			Name: "first",
			Run: func(ctx context.Context, _ *RunContext) error {
				ran = append(ran, "first")
				return jobs.MarkCanceled(ctx, job.ID)
			},
		},
		writeStage("second", "out", &ran),
	}

	err := runner.Run(ctx, job, stages)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("got %v, want ErrCanceled", err)
	}
	if len(ran) != 1 || ran[0] != "first" {
		t.Fatalf("stages past the cancellation must not run, ran %v", ran)
	}

	final, _ := jobs.Get(ctx, job.ID)
	if final.State != StateCanceled {
		t.Fatalf("state = %s, want CANCELED", final.State)
	}
}

func TestRunnerCancellationLeavesJobResumable(t *testing.T) {
	jobs := newMemJobStore()
	runner := newTestRunner(t, jobs, blob.NewMemoryStore())

	job := &Job{ID: "job-6", TargetID: "tgt", TargetType: "hotel", Operation: "index"}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	stages := []Stage{
		{
			Name: "first",
			Run: func(context.Context, *RunContext) error {
				ran = append(ran, "first")
				cancel()
				return nil
			},
		},
		writeStage("second", "out", &ran),
	}

	err := runner.Run(ctx, job, stages)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if len(ran) != 1 {
		t.Fatalf("second stage must not run after cancel, ran %v", ran)
	}

	final, _ := jobs.Get(context.Background(), "job-6")
	if final.State == StateFailed {
		t.Fatal("cancelled run must not mark the job failed")
	}
}
