package breaker

import (
	"context"
	"database/sql"
	"time"

	"github.com/relayloop/campaignd/errors"
)

// HealthRecord is the durable circuit state for one third-party service.
type HealthRecord struct {
	Service          Service    `json:"service"`
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	FailureThreshold int        `json:"failure_threshold"`
	OpenedAt         *time.Time `json:"opened_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HealthStore persists per-service health records in the shared database.
// Every mutation is a conditional update on the expected prior state, so
// concurrent workers reporting outcomes cannot race past a transition:
// a lost race means another caller's write won and the loser observes the
// updated row on re-read.
type HealthStore struct {
	db               *sql.DB
	thresholds       map[Service]int
	defaultThreshold int
}

// NewHealthStore creates a health store. Per-service thresholds override
// defaultThreshold; services absent from the map use the default.
func NewHealthStore(db *sql.DB, thresholds map[Service]int, defaultThreshold int) *HealthStore {
	if defaultThreshold <= 0 {
		defaultThreshold = 5
	}
	return &HealthStore{
		db:               db,
		thresholds:       thresholds,
		defaultThreshold: defaultThreshold,
	}
}

// Threshold returns the configured failure threshold for a service.
func (s *HealthStore) Threshold(service Service) int {
	if t, ok := s.thresholds[service]; ok && t > 0 {
		return t
	}
	return s.defaultThreshold
}

// ensure lazily creates the health record for a service. Records start
// closed with a zero failure count and are never deleted.
func (s *HealthStore) ensure(ctx context.Context, service Service) error {
	query := `
		INSERT OR IGNORE INTO service_health (service, state, failure_count, failure_threshold, updated_at)
		VALUES (?, 'closed', 0, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, service, s.Threshold(service), time.Now()); err != nil {
		return errors.Wrapf(err, "failed to ensure health record for %s", service)
	}
	return nil
}

// Get returns the health record for a service, or nil if no outcome has
// ever been reported for it (implicitly closed).
func (s *HealthStore) Get(ctx context.Context, service Service) (*HealthRecord, error) {
	query := `
		SELECT service, state, failure_count, failure_threshold, opened_at, closed_at, last_error, updated_at
		FROM service_health WHERE service = ?
	`
	rec, err := scanHealthRecord(s.db.QueryRowContext(ctx, query, service))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get health record for %s", service)
	}
	return rec, nil
}

// List returns health records for every service that has reported at least
// one outcome, keyed by service name.
func (s *HealthStore) List(ctx context.Context) (map[Service]*HealthRecord, error) {
	query := `
		SELECT service, state, failure_count, failure_threshold, opened_at, closed_at, last_error, updated_at
		FROM service_health
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list health records")
	}
	defer rows.Close()

	records := make(map[Service]*HealthRecord)
	for rows.Next() {
		rec, err := scanHealthRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan health record")
		}
		records[rec.Service] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating health records")
	}
	return records, nil
}

// RecordSuccess resets the consecutive-failure counter. A half-open service
// closes on success; an open service is untouched (only a manual close can
// reopen traffic).
func (s *HealthStore) RecordSuccess(ctx context.Context, service Service) error {
	if err := s.ensure(ctx, service); err != nil {
		return err
	}
	now := time.Now()
	query := `
		UPDATE service_health
		SET failure_count = 0,
		    closed_at = CASE WHEN state = 'half-open' THEN ? ELSE closed_at END,
		    state = CASE WHEN state = 'half-open' THEN 'closed' ELSE state END,
		    updated_at = ?
		WHERE service = ? AND state IN ('closed', 'half-open')
	`
	if _, err := s.db.ExecContext(ctx, query, now, now, service); err != nil {
		return errors.Wrapf(err, "failed to record success for %s", service)
	}
	return nil
}

// RecordFailure increments the consecutive-failure counter and attempts the
// closed-to-open transition. Returns true only for the single caller whose
// conditional update actually moved the row from closed to open; concurrent
// reporters past the threshold observe false and must not re-trigger a
// pause sweep. A failure while half-open re-opens immediately without
// emitting a transition (affected jobs are already paused).
func (s *HealthStore) RecordFailure(ctx context.Context, service Service, detail string) (breached bool, err error) {
	if err := s.ensure(ctx, service); err != nil {
		return false, err
	}
	now := time.Now()

	increment := `
		UPDATE service_health
		SET failure_count = failure_count + 1, last_error = ?, updated_at = ?
		WHERE service = ?
	`
	if _, err := s.db.ExecContext(ctx, increment, detail, now, service); err != nil {
		return false, errors.Wrapf(err, "failed to record failure for %s", service)
	}

	// Breach check-and-set. At most one concurrent caller wins this update.
	breach := `
		UPDATE service_health
		SET state = 'open', opened_at = ?, updated_at = ?
		WHERE service = ? AND state = 'closed' AND failure_count >= failure_threshold
	`
	res, err := s.db.ExecContext(ctx, breach, now, now, service)
	if err != nil {
		return false, errors.Wrapf(err, "failed to apply breach transition for %s", service)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 1 {
		return true, nil
	}

	// Half-open is an unstable closed: one failure re-opens it.
	reopen := `
		UPDATE service_health
		SET state = 'open', opened_at = ?, updated_at = ?
		WHERE service = ? AND state = 'half-open'
	`
	if _, err := s.db.ExecContext(ctx, reopen, now, now, service); err != nil {
		return false, errors.Wrapf(err, "failed to re-open half-open breaker for %s", service)
	}
	return false, nil
}

// ForceClose unconditionally closes the breaker and resets the failure
// counter, returning the prior state. This is the only path from open to
// closed. Races with concurrent reporters are resolved by a compare-and-swap
// loop on the observed prior state.
func (s *HealthStore) ForceClose(ctx context.Context, service Service, reason string) (State, error) {
	if err := s.ensure(ctx, service); err != nil {
		return "", err
	}

	for {
		rec, err := s.Get(ctx, service)
		if err != nil {
			return "", err
		}
		if rec == nil {
			return "", errors.Newf("health record vanished for %s", service)
		}

		now := time.Now()
		query := `
			UPDATE service_health
			SET state = 'closed', failure_count = 0, closed_at = ?, last_error = ?, updated_at = ?
			WHERE service = ? AND state = ?
		`
		res, err := s.db.ExecContext(ctx, query, now, reason, now, service, rec.State)
		if err != nil {
			return "", errors.Wrapf(err, "failed to close breaker for %s", service)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", errors.Wrap(err, "failed to get rows affected")
		}
		if affected == 1 {
			return rec.State, nil
		}
		// Lost the race: another writer changed state between read and write.
	}
}

// MarkHalfOpen moves an open breaker to half-open. There is no timer-based
// path to this state; it exists for an explicit trial-call flow.
func (s *HealthStore) MarkHalfOpen(ctx context.Context, service Service) (bool, error) {
	query := `
		UPDATE service_health
		SET state = 'half-open', updated_at = ?
		WHERE service = ? AND state = 'open'
	`
	res, err := s.db.ExecContext(ctx, query, time.Now(), service)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark %s half-open", service)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHealthRecord(row rowScanner) (*HealthRecord, error) {
	var rec HealthRecord
	var openedAt, closedAt sql.NullTime
	var lastError sql.NullString

	if err := row.Scan(
		&rec.Service,
		&rec.State,
		&rec.FailureCount,
		&rec.FailureThreshold,
		&openedAt,
		&closedAt,
		&lastError,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if openedAt.Valid {
		rec.OpenedAt = &openedAt.Time
	}
	if closedAt.Valid {
		rec.ClosedAt = &closedAt.Time
	}
	if lastError.Valid {
		rec.LastError = lastError.String
	}
	return &rec, nil
}
