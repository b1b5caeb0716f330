package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/errors"
	"github.com/relayloop/campaignd/job"
)

// Coordinator applies breaker transitions to the job store. It is the only
// component that mutates job status as a side effect of breaker events, and
// it owns no state of its own: both operations act only on jobs currently
// in the matching source status, so re-running after a partial failure
// (crash mid-sweep) picks up exactly where the last run stopped.
//
// The coordinator is constructed without any campaign capability. Campaign
// status is derived from job-completion accounting elsewhere; no breaker
// event can reach a campaign row through this type.
type Coordinator struct {
	jobs       *job.Store
	dispatcher Dispatcher
	bus        *Bus
	log        *zap.SugaredLogger
}

// NewCoordinator creates a pause/resume coordinator.
func NewCoordinator(jobs *job.Store, dispatcher Dispatcher, bus *Bus, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		jobs:       jobs,
		dispatcher: dispatcher,
		bus:        bus,
		log:        log,
	}
}

// OnBreakerOpened pauses every pending or processing job that depends on
// the service. Each row transition is an independent conditional update;
// jobs that concurrently reached completed or failed are silently skipped
// because their newer status is authoritative. Campaign rows are never
// touched. Returns the number of jobs actually paused.
func (c *Coordinator) OnBreakerOpened(ctx context.Context, service breaker.Service) (int, error) {
	ids, err := c.jobs.PauseCandidates(ctx, service)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to sweep jobs for %s", service)
	}

	reason := fmt.Sprintf("paused: %s circuit breaker open", service)
	paused := 0
	for _, id := range ids {
		ok, err := c.jobs.Pause(ctx, id, reason)
		if err != nil {
			return paused, errors.Wrapf(err, "pause sweep aborted at job %s", id)
		}
		if !ok {
			continue // job moved on; skip
		}
		paused++
		c.bus.Publish(Event{
			Kind:    EventJob,
			JobID:   id,
			Status:  job.StatusPaused,
			Service: service,
			Reason:  reason,
		})
	}

	c.log.Infow("Paused jobs for open breaker", "service", service, "candidates", len(ids), "paused", paused)
	return paused, nil
}

// OnBreakerClosed returns every paused job of the service to pending with
// its error cleared, then submits a fresh work item for each. Jobs that
// were processing at pause time restart from pending rather than resuming
// mid-step. Calling this twice in a row is a no-op the second time: there
// is nothing left in the paused source status.
func (c *Coordinator) OnBreakerClosed(ctx context.Context, service breaker.Service) (int, error) {
	pausedJobs, err := c.jobs.ListPaused(ctx, service)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to list paused jobs for %s", service)
	}

	resumed := 0
	for _, j := range pausedJobs {
		ok, err := c.jobs.Resume(ctx, j.ID)
		if err != nil {
			return resumed, errors.Wrapf(err, "resume aborted at job %s", j.ID)
		}
		if !ok {
			continue // already resumed by a concurrent sweep
		}
		resumed++

		if err := c.dispatcher.Enqueue(ctx, j.ID, j.Type); err != nil {
			return resumed, errors.Wrapf(err, "failed to dispatch resumed job %s", j.ID)
		}
		c.bus.Publish(Event{
			Kind:       EventJob,
			JobID:      j.ID,
			CampaignID: j.CampaignID,
			JobType:    j.Type,
			Status:     job.StatusPending,
			Service:    service,
			Reason:     "breaker closed",
			At:         time.Now(),
		})
	}

	c.log.Infow("Resumed jobs for closed breaker", "service", service, "resumed", resumed)
	return resumed, nil
}
