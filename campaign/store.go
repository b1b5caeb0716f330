package campaign

import (
	"context"
	"database/sql"
	"time"

	"github.com/relayloop/campaignd/errors"
)

// Store handles persistence of campaigns. It exposes no operation that
// could set a paused status; the only terminal transitions come from
// Recompute's job-completion accounting.
type Store struct {
	db *sql.DB
}

// NewStore creates a campaign store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new campaign.
func (s *Store) Create(ctx context.Context, c *Campaign) error {
	query := `
		INSERT INTO campaigns (id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Status, c.CreatedAt, c.UpdatedAt); err != nil {
		return errors.Wrapf(err, "failed to create campaign %s", c.ID)
	}
	return nil
}

// Get retrieves a campaign by ID.
func (s *Store) Get(ctx context.Context, id string) (*Campaign, error) {
	query := `SELECT id, name, status, created_at, updated_at FROM campaigns WHERE id = ?`

	var c Campaign
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("campaign not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get campaign %s", id)
	}
	return &c, nil
}

// List returns campaigns, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Campaign, error) {
	query := `SELECT id, name, status, created_at, updated_at FROM campaigns ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list campaigns")
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan campaign")
		}
		campaigns = append(campaigns, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating campaigns")
	}
	return campaigns, nil
}

// Start moves a created campaign to running. Returns false if the campaign
// was not in the created state.
func (s *Store) Start(ctx context.Context, id string) (bool, error) {
	query := `UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, query, StatusRunning, time.Now(), id, StatusCreated)
	if err != nil {
		return false, errors.Wrapf(err, "failed to start campaign %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected == 1, nil
}

// Recompute derives the campaign's status from its jobs' completion
// accounting and applies it. A running campaign finishes only when every
// job is terminal: failed if any job failed, completed otherwise. Paused
// jobs are not terminal, so an outage leaves the campaign running. Returns
// the status after recomputation.
func (s *Store) Recompute(ctx context.Context, id string) (Status, error) {
	query := `
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN status IN ('completed', 'failed') THEN 1 ELSE 0 END), 0) AS terminal,
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM jobs WHERE campaign_id = ?
	`
	var total, terminal, failed int
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&total, &terminal, &failed); err != nil {
		return "", errors.Wrapf(err, "failed to count jobs for campaign %s", id)
	}

	if total == 0 || terminal < total {
		c, err := s.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return c.Status, nil
	}

	target := StatusCompleted
	if failed > 0 {
		target = StatusFailed
	}

	// Only a running campaign finishes; a concurrent recompute that already
	// moved the row wins.
	update := `UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	if _, err := s.db.ExecContext(ctx, update, target, time.Now(), id, StatusRunning); err != nil {
		return "", errors.Wrapf(err, "failed to finish campaign %s", id)
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return c.Status, nil
}
