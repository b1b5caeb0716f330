package queue

import (
	"context"
	"time"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/job"
)

// ServiceStatus is the observable slice of one service's health record.
type ServiceStatus struct {
	State            breaker.State `json:"state"`
	FailureCount     int           `json:"failure_count"`
	FailureThreshold int           `json:"failure_threshold"`
	OpenedAt         *time.Time    `json:"opened_at,omitempty"`
	ClosedAt         *time.Time    `json:"closed_at,omitempty"`
}

// Status is the read-only queue snapshot. The service-health read and the
// job-count reads are independent queries, not one atomic snapshot; brief
// skew between them is expected and acceptable for observability.
type Status struct {
	Services        map[string]ServiceStatus `json:"services"`
	Jobs            map[string]int           `json:"jobs"`
	PausedByService map[string]int           `json:"paused_by_service"`
	GeneratedAt     time.Time                `json:"timestamp"`
}

// Reporter projects service health and job counts for observability. Pure
// reads, no locking beyond the store's own consistency.
type Reporter struct {
	health *breaker.HealthStore
	jobs   *job.Store
}

// NewReporter creates a status reporter.
func NewReporter(health *breaker.HealthStore, jobs *job.Store) *Reporter {
	return &Reporter{health: health, jobs: jobs}
}

// GetStatus returns the current queue snapshot. Services without a health
// record report their implicit initial state (closed, zero failures).
func (r *Reporter) GetStatus(ctx context.Context) (*Status, error) {
	records, err := r.health.List(ctx)
	if err != nil {
		return nil, err
	}

	services := make(map[string]ServiceStatus, len(breaker.KnownServices()))
	for _, svc := range breaker.KnownServices() {
		if rec, ok := records[svc]; ok {
			services[string(svc)] = ServiceStatus{
				State:            rec.State,
				FailureCount:     rec.FailureCount,
				FailureThreshold: rec.FailureThreshold,
				OpenedAt:         rec.OpenedAt,
				ClosedAt:         rec.ClosedAt,
			}
			continue
		}
		services[string(svc)] = ServiceStatus{
			State:            breaker.StateClosed,
			FailureThreshold: r.health.Threshold(svc),
		}
	}

	statusCounts, err := r.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	jobCounts := make(map[string]int)
	for _, s := range []job.Status{job.StatusPending, job.StatusProcessing, job.StatusCompleted, job.StatusFailed, job.StatusPaused} {
		jobCounts[string(s)] = statusCounts[s]
	}

	pausedCounts, err := r.jobs.CountPausedByService(ctx)
	if err != nil {
		return nil, err
	}
	pausedByService := make(map[string]int, len(pausedCounts))
	for svc, n := range pausedCounts {
		pausedByService[string(svc)] = n
	}

	return &Status{
		Services:        services,
		Jobs:            jobCounts,
		PausedByService: pausedByService,
		GeneratedAt:     time.Now(),
	}, nil
}
