// Package job provides the persistent unit-of-work model. Each job belongs
// to exactly one campaign and depends on at most one third-party service,
// derived from its type.
package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/relayloop/campaignd/breaker"
)

// Status represents the current state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPaused     Status = "paused"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusPaused:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses no transition ever leaves.
// Paused is never terminal: it always resumes back to pending.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type identifies the kind of work a job performs.
type Type string

const (
	TypeFetchLeads     Type = "fetch-leads"
	TypeVerifyEmail    Type = "verify-email"
	TypeEnrichLead     Type = "enrich-lead"
	TypeGenerateCopy   Type = "generate-copy"
	TypeCreateOutreach Type = "create-outreach"
	TypeCleanup        Type = "cleanup"
)

// ServiceFor maps a job type to the third-party service its execution
// depends on. Cleanup has no external dependency and is therefore never
// caught by a pause sweep.
func ServiceFor(t Type) breaker.Service {
	switch t {
	case TypeFetchLeads:
		return breaker.ServiceLeadSource
	case TypeVerifyEmail:
		return breaker.ServiceVerification
	case TypeEnrichLead:
		return breaker.ServiceEnrichment
	case TypeGenerateCopy:
		return breaker.ServiceCopyGen
	case TypeCreateOutreach:
		return breaker.ServiceOutreach
	default:
		return ""
	}
}

// IsValidType returns true if the type string is a valid Type.
func IsValidType(t string) bool {
	switch Type(t) {
	case TypeFetchLeads, TypeVerifyEmail, TypeEnrichLead, TypeGenerateCopy, TypeCreateOutreach, TypeCleanup:
		return true
	default:
		return false
	}
}

// Job represents one unit of background work.
type Job struct {
	ID          string          `json:"id"`
	CampaignID  string          `json:"campaign_id"`
	Type        Type            `json:"type"`
	Service     breaker.Service `json:"service,omitempty"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// New creates a pending job for a campaign. The service dependency is
// derived from the type, never set directly.
func New(campaignID string, t Type) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Type:       t,
		Service:    ServiceFor(t),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
