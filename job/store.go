package job

import (
	"context"
	"database/sql"
	"time"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/errors"
)

// MaxRetries is the maximum number of re-queues for a job that failed with
// a retryable provider error. Breaker pauses do not count against it.
const MaxRetries = 2

// Store handles persistence of jobs in the shared database. All status
// transitions are conditional updates on the expected prior status: a
// mutation that affects zero rows means another writer moved the job first,
// and the caller treats the newer status as authoritative.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new job.
func (s *Store) Create(ctx context.Context, j *Job) error {
	query := `
		INSERT INTO jobs (id, campaign_id, type, service, status, error, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	errMsg := sql.NullString{String: j.Error, Valid: j.Error != ""}
	_, err := s.db.ExecContext(ctx, query,
		j.ID, j.CampaignID, j.Type, string(j.Service), j.Status, errMsg, j.RetryCount, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", j.ID)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE id = ?`

	var j Job
	args := &jobScanArgs{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(scanTargets(&j, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	applyScanArgs(&j, args)
	return &j, nil
}

// List returns jobs, optionally filtered by status, newest first.
func (s *Store) List(ctx context.Context, status *Status, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	base := `SELECT ` + selectColumns + ` FROM jobs`
	if status != nil {
		query = base + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = base + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListByCampaign returns all jobs owned by a campaign, oldest first.
func (s *Store) ListByCampaign(ctx context.Context, campaignID string) ([]*Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE campaign_id = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list jobs for campaign %s", campaignID)
	}
	defer rows.Close()

	return scanJobs(rows, "campaign jobs")
}

// ClaimNextPending atomically claims the oldest pending job, moving it to
// processing. Returns nil when no job is available. A claim that loses the
// conditional update (another worker or a pause sweep got there first)
// simply tries the next candidate.
func (s *Store) ClaimNextPending(ctx context.Context) (*Job, error) {
	const claimAttempts = 3

	for attempt := 0; attempt < claimAttempts; attempt++ {
		oldest := `SELECT ` + selectColumns + ` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`
		var candidate Job
		args := &jobScanArgs{}
		err := s.db.QueryRowContext(ctx, oldest, StatusPending).Scan(scanTargets(&candidate, args)...)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to find claimable job")
		}
		applyScanArgs(&candidate, args)

		j := &candidate
		now := time.Now()
		query := `
			UPDATE jobs SET status = ?, started_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`
		res, err := s.db.ExecContext(ctx, query, StatusProcessing, now, now, j.ID, StatusPending)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to claim job %s", j.ID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get rows affected")
		}
		if affected == 1 {
			j.Status = StatusProcessing
			j.StartedAt = &now
			j.UpdatedAt = now
			return j, nil
		}
		// Lost the claim race; re-read for a fresh candidate.
	}
	return nil, nil
}

// Complete moves a processing job to completed. Returns false if the job
// was no longer processing (e.g. a pause sweep parked it first).
func (s *Store) Complete(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE jobs SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return s.conditionalUpdate(ctx, "complete", id, query, StatusCompleted, now, now, id, StatusProcessing)
}

// Fail moves a processing job to failed with an error message.
func (s *Store) Fail(ctx context.Context, id string, msg string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE jobs SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return s.conditionalUpdate(ctx, "fail", id, query, StatusFailed, msg, now, now, id, StatusProcessing)
}

// Requeue returns a processing job to pending for another attempt,
// incrementing its retry counter.
func (s *Store) Requeue(ctx context.Context, id string, msg string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE jobs SET status = ?, error = ?, retry_count = retry_count + 1, started_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return s.conditionalUpdate(ctx, "requeue", id, query, StatusPending, msg, now, id, StatusProcessing)
}

// PauseCandidates returns the IDs of jobs eligible for a pause sweep:
// pending or processing jobs depending on the given service.
func (s *Store) PauseCandidates(ctx context.Context, service breaker.Service) ([]string, error) {
	query := `
		SELECT id FROM jobs
		WHERE service = ? AND status IN (?, ?)
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(service), StatusPending, StatusProcessing)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find pause candidates for %s", service)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan job id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating pause candidates")
	}
	return ids, nil
}

// Pause parks a pending or processing job. Jobs that concurrently reached a
// terminal status are skipped (returns false): their newer status wins.
func (s *Store) Pause(ctx context.Context, id string, reason string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE jobs SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`
	return s.conditionalUpdate(ctx, "pause", id, query, StatusPaused, reason, now, id, StatusPending, StatusProcessing)
}

// ListPaused returns all paused jobs for a service, oldest first.
func (s *Store) ListPaused(ctx context.Context, service breaker.Service) ([]*Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE service = ? AND status = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, string(service), StatusPaused)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list paused jobs for %s", service)
	}
	defer rows.Close()

	return scanJobs(rows, "paused jobs")
}

// Resume returns a paused job to pending with its error cleared. Jobs that
// were processing at pause time restart from pending like everything else:
// in-flight work is assumed abandoned after a breaker trip.
func (s *Store) Resume(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE jobs SET status = ?, error = NULL, started_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return s.conditionalUpdate(ctx, "resume", id, query, StatusPending, now, id, StatusPaused)
}

// RecoverOrphans returns every processing job to pending. Called once at
// worker pool startup: jobs left processing by a crash have no live worker,
// so their in-flight work is abandoned and they re-enter the queue fresh.
func (s *Store) RecoverOrphans(ctx context.Context) (int, error) {
	now := time.Now()
	query := `
		UPDATE jobs SET status = ?, started_at = NULL, updated_at = ?
		WHERE status = ?
	`
	res, err := s.db.ExecContext(ctx, query, StatusPending, now, StatusProcessing)
	if err != nil {
		return 0, errors.Wrap(err, "failed to recover orphaned jobs")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(affected), nil
}

// CountByStatus returns job counts grouped by status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating status counts")
	}
	return counts, nil
}

// CountPausedByService returns paused-job counts grouped by service.
func (s *Store) CountPausedByService(ctx context.Context) (map[breaker.Service]int, error) {
	query := `SELECT service, COUNT(*) FROM jobs WHERE status = ? GROUP BY service`
	rows, err := s.db.QueryContext(ctx, query, StatusPaused)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count paused jobs by service")
	}
	defer rows.Close()

	counts := make(map[breaker.Service]int)
	for rows.Next() {
		var service string
		var count int
		if err := rows.Scan(&service, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan paused count")
		}
		counts[breaker.Service(service)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating paused counts")
	}
	return counts, nil
}

// CleanupOld removes completed/failed jobs older than the specified duration.
func (s *Store) CleanupOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		DELETE FROM jobs
		WHERE status IN (?, ?) AND updated_at < ?
	`
	res, err := s.db.ExecContext(ctx, query, StatusCompleted, StatusFailed, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(affected), nil
}

// conditionalUpdate executes a status transition and reports whether the
// row was actually moved. Zero rows affected is not an error: it means the
// job's current status no longer matched the expected source status.
func (s *Store) conditionalUpdate(ctx context.Context, op string, id string, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "failed to %s job %s", op, id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// scanJobs is a helper that scans multiple jobs from query rows.
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var j Job
		if err := scanJobFromRows(rows, &j); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return jobs, nil
}
