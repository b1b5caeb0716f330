package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relayloop/campaignd/job"
)

// Dispatcher is the work-submission boundary the coordinator uses when
// resuming jobs. Implementations must tolerate at-least-once submission:
// a resumed job may be dispatched again after a partial failure, and job
// bodies are required to be safely re-runnable.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string, jobType job.Type) error
}

// NotifyDispatcher is the in-process dispatcher: resumed jobs are already
// pending rows in the shared store, so dispatch is a wake-up for the
// polling worker pool plus an event for observers.
type NotifyDispatcher struct {
	bus  *Bus
	wake chan struct{}
	log  *zap.SugaredLogger
}

// NewNotifyDispatcher creates a dispatcher that nudges the worker pool.
func NewNotifyDispatcher(bus *Bus, log *zap.SugaredLogger) *NotifyDispatcher {
	return &NotifyDispatcher{
		bus:  bus,
		wake: make(chan struct{}, 1),
		log:  log,
	}
}

// Enqueue submits a fresh work item. The status flip back to pending has
// already happened in the store; this publishes the event and wakes a
// worker so the job is picked up without waiting for the next poll tick.
func (d *NotifyDispatcher) Enqueue(ctx context.Context, jobID string, jobType job.Type) error {
	d.bus.Publish(Event{
		Kind:    EventJob,
		JobID:   jobID,
		JobType: jobType,
		Status:  job.StatusPending,
		Reason:  "dispatched",
		At:      time.Now(),
	})

	select {
	case d.wake <- struct{}{}:
	default:
		// A wake-up is already queued.
	}

	d.log.Debugw("Dispatched job", "job_id", jobID, "type", jobType)
	return nil
}

// Wake exposes the wake-up channel the worker pool selects on.
func (d *NotifyDispatcher) Wake() <-chan struct{} {
	return d.wake
}
