// Package campaign provides the campaign aggregate. A campaign's status is
// a pure function of its jobs' completion accounting: breaker events and
// pause sweeps never write to a campaign row. The status enum has no paused
// value, so a campaign can be running while every one of its jobs is paused
// during an outage.
package campaign

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a campaign. There is
// deliberately no paused status.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusCreated, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Campaign is a long-running aggregate of background jobs.
type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a campaign in the created state.
func New(name string) *Campaign {
	now := time.Now()
	return &Campaign{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
