package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/mediaforge/internal/models"
)

// Implements jobs.Repository (spec §4.L) plus the scan-counter methods
// of scanpipeline.Repository (spec §4.F), which live as plain columns
// on the jobs table rather than a separate scan_progress table since
// each counter is scoped 1:1 to a single scan job row.

const jobColumns = `id, type, priority, payload, status, retry_count, max_retries,
	next_retry_at, parent_job_id, progress_current, progress_total, progress_message,
	error_message, created_at, updated_at, completed_at`

func scanJob(row interface{ Scan(dest ...interface{}) error }) (*models.Job, error) {
	j := &models.Job{}
	err := row.Scan(&j.ID, &j.Type, &j.Priority, &j.Payload, &j.Status, &j.RetryCount, &j.MaxRetries,
		&j.NextRetryAt, &j.ParentJobID, &j.ProgressCur, &j.ProgressTotal, &j.ProgressMsg,
		&j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	return j, err
}

func (s *Store) Create(ctx context.Context, job *models.Job) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (type, priority, payload, parent_job_id, max_retries)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at, status`,
		job.Type, job.Priority, job.Payload, job.ParentJobID, job.MaxRetries)
	if err := row.Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt, &job.Status); err != nil {
		return err
	}
	for _, dep := range job.DependsOn {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO job_dependencies (job_id, depends_on_job_id) VALUES ($1, $2)`, job.ID, dep); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadDependsOn(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) loadDependsOn(ctx context.Context, j *models.Job) error {
	rows, err := s.db.QueryContext(ctx, `SELECT depends_on_job_id FROM job_dependencies WHERE job_id = $1`, j.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var dep uuid.UUID
		if err := rows.Scan(&dep); err != nil {
			return err
		}
		j.DependsOn = append(j.DependsOn, dep)
	}
	return rows.Err()
}

// ListRunnable selects pending jobs not gated by an incomplete
// dependency, ordered by priority band then age (spec §4.L
// "Selection").
func (s *Store) ListRunnable(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs j
		WHERE j.status = 'pending'
		  AND (j.next_retry_at IS NULL OR j.next_retry_at <= $1)
		  AND NOT EXISTS (
		      SELECT 1 FROM job_dependencies d
		      JOIN jobs dj ON dj.id = d.depends_on_job_id
		      WHERE d.job_id = j.id AND dj.status != 'completed'
		  )
		ORDER BY j.priority ASC, j.created_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'processing', updated_at = now() WHERE id = $1`, id)
	return err
}

func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', updated_at = now(), completed_at = now() WHERE id = $1`, id)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $2, updated_at = now(), completed_at = now() WHERE id = $1`,
		id, errMsg)
	return err
}

func (s *Store) ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', retry_count = retry_count + 1,
			next_retry_at = $2, error_message = $3, updated_at = now()
		WHERE id = $1`, id, nextRetryAt, errMsg)
	return err
}

func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, cur, total int, msg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress_current = $2, progress_total = $3, progress_message = $4, updated_at = now()
		WHERE id = $1`, id, cur, total, msg)
	return err
}

// ResetProcessingToPending recovers jobs orphaned by a crashed worker,
// returning them to the queue for reselection.
func (s *Store) ResetProcessingToPending(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = 'pending', updated_at = now() WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) CancelNotStarted(ctx context.Context, parentJobID uuid.UUID) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', updated_at = now()
		WHERE parent_job_id = $1 AND status = 'pending'`, parentJobID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) SetDirectoriesTotal(ctx context.Context, scanJobID uuid.UUID, total int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET directories_total = $2, updated_at = now() WHERE id = $1`, scanJobID, total)
	return err
}

func (s *Store) IncrementDirectoriesScanned(ctx context.Context, scanJobID uuid.UUID) (scanned, total int, err error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET directories_scanned = directories_scanned + 1, updated_at = now()
		WHERE id = $1
		RETURNING directories_scanned, directories_total`, scanJobID)
	err = row.Scan(&scanned, &total)
	return
}

func (s *Store) IncrementAssetsCached(ctx context.Context, scanJobID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET assets_cached = assets_cached + 1, updated_at = now() WHERE id = $1`, scanJobID)
	return err
}
