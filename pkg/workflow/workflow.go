package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tripsphere/backend/pkg/blob"
)

// Job states. A job moves SUBMITTED -> RUNNING -> COMPLETED or FAILED and
// never leaves a terminal state.
const (
	StateSubmitted = "SUBMITTED"
	StateRunning   = "RUNNING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
	StateCanceled  = "CANCELED"
)

// IsTerminal reports whether a job state is final.
func IsTerminal(state string) bool {
	return state == StateCompleted || state == StateFailed || state == StateCanceled
}

// ErrCanceled is returned by a run whose job was moved to CANCELED from the
// outside. The job is not marked failed; the terminal state stands.
var ErrCanceled = errors.New("job canceled")

// Job is one indexing run over a target. Artifacts maps stage output keys to
// blob names so an interrupted run can resume past completed stages.
type Job struct {
	ID         string
	TargetID   string
	TargetType string
	Operation  string
	State      string
	Stage      string
	Artifacts  map[string]string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobStore persists job state transitions and per-stage checkpoints.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	MarkRunning(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, cause string) error
	MarkCanceled(ctx context.Context, jobID string) error
	SaveProgress(ctx context.Context, jobID string, stage string, artifacts map[string]string) error
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)
	FindActiveByTarget(ctx context.Context, targetID string, targetType string) (*Job, error)
}

// Stage is one step of a workflow. Outputs lists the artifact keys the stage
// is expected to record; when all of them already resolve to existing blobs
// the stage is skipped on resume.
type Stage struct {
	Name    string
	Outputs []string
	Run     func(ctx context.Context, rc *RunContext) error
}

// RunContext is handed to every stage of a run. It carries the target under
// work and the artifact map accumulated by earlier stages.
type RunContext struct {
	TargetID   string
	TargetType string
	Blobs      blob.Store

	mu        sync.Mutex
	artifacts map[string]string
}

// Artifact returns the blob name recorded under key, if any.
func (rc *RunContext) Artifact(key string) (string, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	name, ok := rc.artifacts[key]
	return name, ok
}

// SetArtifact records the blob name produced for an output key.
func (rc *RunContext) SetArtifact(key string, name string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.artifacts == nil {
		rc.artifacts = make(map[string]string)
	}
	rc.artifacts[key] = name
}

func (rc *RunContext) snapshot() map[string]string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]string, len(rc.artifacts))
	for k, v := range rc.artifacts {
		out[k] = v
	}
	return out
}

// retryableError marks a stage failure as transient so the runner retries it.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so the runner treats it as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
