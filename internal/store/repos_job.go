package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scanner/internal/model"
)

type pgJobRepo struct{ db *sql.DB }

func (r *pgJobRepo) Create(ctx context.Context, job *model.ScanJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_jobs (id, type, source_name, status, stage, started_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())`,
		job.ID, job.Type, job.SourceName, model.JobStatusPending, job.Stage)
	if err != nil {
		return fmt.Errorf("store: create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *pgJobRepo) MarkRunning(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs SET status = $2, started_at = NOW() WHERE id = $1`,
		id, model.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("store: mark job %s running: %w", id, err)
	}
	return nil
}

func (r *pgJobRepo) MarkCompleted(ctx context.Context, id string, imagesFound, facesDetected, matchesFound int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs
		SET status = $2, images_found = $3, faces_detected = $4, matches_found = $5, completed_at = NOW()
		WHERE id = $1`, id, model.JobStatusCompleted, imagesFound, facesDetected, matchesFound)
	if err != nil {
		return fmt.Errorf("store: mark job %s completed: %w", id, err)
	}
	return nil
}

// truncatedErrorLen bounds the stored error message.
const truncatedErrorLen = 1024

func (r *pgJobRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if len(errMsg) > truncatedErrorLen {
		errMsg = errMsg[:truncatedErrorLen]
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs SET status = $2, error_message = $3, completed_at = NOW() WHERE id = $1`,
		id, model.JobStatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("store: mark job %s failed: %w", id, err)
	}
	return nil
}

func (r *pgJobRepo) MarkInterrupted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status = $3`, id, model.JobStatusInterrupted, model.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("store: mark job %s interrupted: %w", id, err)
	}
	return nil
}

// InterruptRunning marks every running job interrupted, used at shutdown
// rather than on a per-job basis since the scheduler does not track which
// specific jobs are in flight when a termination signal arrives.
func (r *pgJobRepo) InterruptRunning(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs SET status = $1, completed_at = NOW() WHERE status = $2`,
		model.JobStatusInterrupted, model.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("store: interrupt running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: interrupted job rows affected: %w", err)
	}
	return int(n), nil
}

// RecoverStale reclassifies any job left running beyond maxAge as failed
// with the stale-job error marker.
func (r *pgJobRepo) RecoverStale(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs
		SET status = $1, error_message = $2, completed_at = NOW()
		WHERE status = $3 AND started_at < $4`,
		model.JobStatusFailed, model.StaleJobError, model.JobStatusRunning, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("store: recover stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: stale job rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteOld prunes completed/failed scan jobs past the retention window,
// LIMIT-batched like the other cleanup queries.
func (r *pgJobRepo) DeleteOld(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM scan_jobs WHERE id IN (
			SELECT id FROM scan_jobs
			WHERE status IN ($1, $2) AND completed_at < $3
			LIMIT $4)`, model.JobStatusCompleted, model.JobStatusFailed, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("store: delete old jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: deleted job rows affected: %w", err)
	}
	return int(n), nil
}
