package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/blob"
	"github.com/tripsphere/backend/pkg/logger"
)

const DefaultMaxStageRetries = 3

// ProgressFunc is notified after every stage boundary.
type ProgressFunc func(jobID string, stage string, state string)

// Runner executes a workflow's stages in order with per-stage checkpoints.
// Cancellation is honored at stage boundaries: a cancelled run leaves its
// job in a resumable state rather than marking it failed.
type Runner struct {
	jobs       JobStore
	blobs      blob.Store
	maxRetries int
	backoff    util.BackoffOptions
	onProgress ProgressFunc
}

type NewRunnerParams struct {
	Jobs       JobStore
	Blobs      blob.Store
	MaxRetries int
	Backoff    util.BackoffOptions
	OnProgress ProgressFunc
}

func NewRunner(params NewRunnerParams) (*Runner, error) {
	if params.Jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if params.Blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxStageRetries
	}
	return &Runner{
		jobs:       params.Jobs,
		blobs:      params.Blobs,
		maxRetries: maxRetries,
		backoff:    params.Backoff,
		onProgress: params.OnProgress,
	}, nil
}

// Run drives a job through stages. The job must already exist; artifacts
// recorded by a previous interrupted run are honored, so completed stages
// are skipped instead of recomputed.
func (r *Runner) Run(ctx context.Context, job *Job, stages []Stage) error {
	if IsTerminal(job.State) {
		return fmt.Errorf("job %s is already %s", job.ID, job.State)
	}

	if err := r.jobs.MarkRunning(ctx, job.ID); err != nil {
		return err
	}

	rc := &RunContext{
		TargetID:   job.TargetID,
		TargetType: job.TargetType,
		Blobs:      r.blobs,
		artifacts:  make(map[string]string, len(job.Artifacts)),
	}
	for k, v := range job.Artifacts {
		rc.artifacts[k] = v
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			logger.Info("[Workflow] Run interrupted at stage boundary", "job", job.ID, "stage", stage.Name)
			return err
		}

		// Re-read the persisted state so a job canceled from the outside
		// stops here instead of running to completion on stale memory.
		// A read failure leaves the job RUNNING; stale recovery resubmits it.
		current, err := r.jobs.Get(ctx, job.ID)
		if err != nil {
			return err
		}
		if IsTerminal(current.State) {
			if current.State == StateCanceled {
				logger.Info("[Workflow] Run stopped, job canceled", "job", job.ID, "stage", stage.Name)
				return ErrCanceled
			}
			return fmt.Errorf("job %s is already %s", job.ID, current.State)
		}

		done, err := r.stageDone(ctx, rc, stage)
		if err != nil {
			return r.fail(ctx, job, stage, err)
		}
		if done {
			logger.Debug("[Workflow] Skipping completed stage", "job", job.ID, "stage", stage.Name)
			r.notify(job.ID, stage.Name, "skipped")
			continue
		}

		logger.Info("[Workflow] Running stage", "job", job.ID, "stage", stage.Name)
		if err := r.runStage(ctx, rc, stage); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.fail(ctx, job, stage, err)
		}

		if err := r.jobs.SaveProgress(ctx, job.ID, stage.Name, rc.snapshot()); err != nil {
			if errors.Is(err, ErrCanceled) {
				logger.Info("[Workflow] Run stopped, job canceled", "job", job.ID, "stage", stage.Name)
				return ErrCanceled
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.fail(ctx, job, stage, err)
		}
		r.notify(job.ID, stage.Name, "completed")
	}

	if err := r.jobs.MarkCompleted(ctx, job.ID); err != nil {
		return err
	}
	logger.Info("[Workflow] Run completed", "job", job.ID, "stages", len(stages))
	return nil
}

// stageDone reports whether every declared output of the stage resolves to
// an existing blob.
func (r *Runner) stageDone(ctx context.Context, rc *RunContext, stage Stage) (bool, error) {
	if len(stage.Outputs) == 0 {
		return false, nil
	}
	for _, key := range stage.Outputs {
		name, ok := rc.Artifact(key)
		if !ok {
			return false, nil
		}
		exists, err := rc.Blobs.Exists(ctx, name)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

func (r *Runner) runStage(ctx context.Context, rc *RunContext, stage Stage) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		lastErr = stage.Run(ctx, rc)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == r.maxRetries {
			break
		}
		logger.Warn("[Workflow] Stage failed, retrying", "stage", stage.Name, "attempt", attempt, "err", lastErr)
		if err := util.Sleep(ctx, r.backoff.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (r *Runner) fail(ctx context.Context, job *Job, stage Stage, cause error) error {
	logger.Error("[Workflow] Run failed", "job", job.ID, "stage", stage.Name, "err", cause)
	if err := r.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		logger.Error("[Workflow] Failed to persist job failure", "job", job.ID, "err", err)
	}
	r.notify(job.ID, stage.Name, "failed")
	return cause
}

func (r *Runner) notify(jobID string, stage string, state string) {
	if r.onProgress != nil {
		r.onProgress(jobID, stage, state)
	}
}
