package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrJobNotFound is returned when a job ID does not exist.
var ErrJobNotFound = errors.New("job not found")

// PGJobStore persists jobs in the index_jobs table.
type PGJobStore struct {
	conn *pgxpool.Pool
}

func NewPGJobStore(conn *pgxpool.Pool) *PGJobStore {
	return &PGJobStore{conn: conn}
}

func (s *PGJobStore) Create(ctx context.Context, job *Job) error {
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return err
	}
	if job.State == "" {
		job.State = StateSubmitted
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO index_jobs (id, target_id, target_type, operation, state, stage, artifacts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.TargetID, job.TargetType, job.Operation, job.State, job.Stage, artifacts)
	return err
}

func (s *PGJobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	var artifacts []byte
	err := s.conn.QueryRow(ctx, `
		SELECT id, target_id, target_type, operation, state, stage, artifacts,
		       coalesce(error, ''), created_at, updated_at
		FROM index_jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID, &job.TargetID, &job.TargetType, &job.Operation, &job.State,
		&job.Stage, &artifacts, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &job.Artifacts); err != nil {
			return nil, fmt.Errorf("corrupt artifact map for job %s: %w", jobID, err)
		}
	}
	return &job, nil
}

// FindActiveByTarget returns the newest non-terminal job for a target, or
// nil when the target is idle.
func (s *PGJobStore) FindActiveByTarget(ctx context.Context, targetID string, targetType string) (*Job, error) {
	var jobID string
	err := s.conn.QueryRow(ctx, `
		SELECT id FROM index_jobs
		WHERE target_id = $1 AND target_type = $2 AND state IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`, targetID, targetType, StateSubmitted, StateRunning).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, jobID)
}

func (s *PGJobStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, StateRunning, "")
}

func (s *PGJobStore) MarkCompleted(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, StateCompleted, "")
}

func (s *PGJobStore) MarkFailed(ctx context.Context, jobID string, cause string) error {
	return s.transition(ctx, jobID, StateFailed, cause)
}

func (s *PGJobStore) MarkCanceled(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, StateCanceled, "")
}

// transition refuses to move a job out of a terminal state.
func (s *PGJobStore) transition(ctx context.Context, jobID string, state string, cause string) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE index_jobs
		SET state = $2, error = nullif($3, ''), updated_at = now()
		WHERE id = $1 AND state NOT IN ($4, $5, $6)
	`, jobID, state, cause, StateCompleted, StateFailed, StateCanceled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found or already terminal", jobID)
	}
	return nil
}

// SaveProgress refuses to touch a job in a terminal state, so a checkpoint
// from an in-flight run cannot resurrect a job canceled from the outside.
func (s *PGJobStore) SaveProgress(ctx context.Context, jobID string, stage string, artifacts map[string]string) error {
	encoded, err := json.Marshal(artifacts)
	if err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE index_jobs
		SET stage = $2, artifacts = $3, updated_at = now()
		WHERE id = $1 AND state NOT IN ($4, $5, $6)
	`, jobID, stage, encoded, StateCompleted, StateFailed, StateCanceled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		job, err := s.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if IsTerminal(job.State) {
			return ErrCanceled
		}
		return ErrJobNotFound
	}
	return nil
}

// ClaimSubmitted atomically picks the oldest SUBMITTED job and moves it to
// RUNNING. SKIP LOCKED lets multiple workers poll the same table without
// claiming the same job. Returns nil when the queue is empty.
func (s *PGJobStore) ClaimSubmitted(ctx context.Context) (*Job, error) {
	var jobID string
	err := s.conn.QueryRow(ctx, `
		UPDATE index_jobs
		SET state = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM index_jobs
			WHERE state = $2
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, StateRunning, StateSubmitted).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, jobID)
}

// RecoverStale re-queues RUNNING jobs whose worker died. Checkpointed
// artifacts survive, so the resumed run skips completed stages.
func (s *PGJobStore) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.conn.Exec(ctx, `
		UPDATE index_jobs
		SET state = $1, updated_at = now()
		WHERE state = $2 AND updated_at < now() - $3::interval
	`, StateSubmitted, StateRunning, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
