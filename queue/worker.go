package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/campaign"
	"github.com/relayloop/campaignd/client"
	"github.com/relayloop/campaignd/errors"
	"github.com/relayloop/campaignd/job"
)

// PoolConfig contains configuration for the worker pool.
type PoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often to check for new jobs
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      2,
		PollInterval: 5 * time.Second,
	}
}

// Pool manages workers that claim and execute jobs. Workers re-check the
// breaker before executing every claimed job: the pause sweep covers work
// that was already enqueued when a breaker opened, and this per-execution
// check covers jobs created after the sweep.
type Pool struct {
	cfg       PoolConfig
	jobs      *job.Store
	campaigns *campaign.Store
	breaker   *breaker.Breaker
	registry  *Registry
	wake      <-chan struct{}
	bus       *Bus
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	log       *zap.SugaredLogger
}

// NewPool creates a worker pool. Handlers must be registered on the
// registry before Start().
func NewPool(ctx context.Context, cfg PoolConfig, jobs *job.Store, campaigns *campaign.Store, br *breaker.Breaker, registry *Registry, wake <-chan struct{}, bus *Bus, log *zap.SugaredLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPoolConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPoolConfig().PollInterval
	}
	workerCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		cfg:       cfg,
		jobs:      jobs,
		campaigns: campaigns,
		breaker:   br,
		registry:  registry,
		wake:      wake,
		bus:       bus,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		log:       log.Named("workers"),
	}
}

// Start recovers orphaned jobs and begins processing.
func (p *Pool) Start() {
	// Recreate the context if Stop() ran before a restart.
	select {
	case <-p.ctx.Done():
		p.ctx, p.cancel = context.WithCancel(p.parentCtx)
	default:
	}

	recovered, err := p.jobs.RecoverOrphans(p.ctx)
	if err != nil {
		p.log.Warnw("Failed to recover orphaned jobs", "error", err)
	} else if recovered > 0 {
		p.log.Infow("Recovered orphaned jobs from previous run", "count", recovered)
	}

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Infow("Worker pool started", "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval)
}

// Stop gracefully stops the pool, waiting up to 30 seconds for in-flight
// jobs to finish.
func (p *Pool) Stop() {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	const timeout = 30 * time.Second
	select {
	case <-done:
		p.log.Infow("Worker pool stopped")
	case <-time.After(timeout):
		p.log.Warnw("Worker pool stop timed out; workers may still be finishing", "timeout", timeout)
	}
}

// worker claims and processes jobs until the pool context is cancelled.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}

		if err := p.processNext(); err != nil {
			select {
			case <-p.ctx.Done():
				return // shutdown noise, not a real error
			default:
				p.log.Errorw("Worker error processing job", "worker_id", id, "error", err)
			}
		}
	}
}

// processNext claims the oldest pending job and executes it.
func (p *Pool) processNext() error {
	j, err := p.jobs.ClaimNextPending(p.ctx)
	if err != nil {
		return errors.Wrap(err, "failed to claim job")
	}
	if j == nil {
		return nil // nothing to do
	}

	p.bus.Publish(Event{
		Kind:       EventJob,
		JobID:      j.ID,
		CampaignID: j.CampaignID,
		JobType:    j.Type,
		Status:     job.StatusProcessing,
		Service:    j.Service,
	})

	// Second line of defense: the pause sweep only covers jobs visible at
	// breach time. A job created while the breaker is open reaches this
	// check as pending and is paused here instead of executed.
	if j.Service != "" {
		allowed, reason, err := p.breaker.Allow(p.ctx, j.Service)
		if err != nil {
			return errors.Wrapf(err, "failed to check breaker for job %s", j.ID)
		}
		if !allowed {
			return p.pauseClaimed(j, fmt.Sprintf("paused: %s circuit breaker open (%s)", j.Service, reason))
		}
	}

	handler := p.registry.Get(j.Type)
	if handler == nil {
		return p.finalize(j, false, fmt.Sprintf("no handler registered for job type: %s", j.Type))
	}

	execErr := handler.Execute(p.ctx, j)
	switch {
	case execErr == nil:
		return p.finalize(j, true, "")

	case errors.IsBreakerOpenError(execErr):
		// The call was refused (or a concurrent breach paused the job
		// mid-sweep). Park it; the conditional update is a no-op if the
		// sweep already did.
		return p.pauseClaimed(j, fmt.Sprintf("paused: %s circuit breaker open", j.Service))

	case client.IsRetryable(execErr) && j.RetryCount < job.MaxRetries:
		ok, err := p.jobs.Requeue(p.ctx, j.ID, execErr.Error())
		if err != nil {
			return err
		}
		if ok {
			p.log.Infow("Requeued job after retryable failure",
				"job_id", j.ID, "type", j.Type, "attempt", j.RetryCount+1, "error", execErr)
		}
		return nil

	default:
		return p.finalize(j, false, execErr.Error())
	}
}

// pauseClaimed parks a job this worker claimed. A lost conditional update
// means a pause sweep or another writer got there first.
func (p *Pool) pauseClaimed(j *job.Job, reason string) error {
	ok, err := p.jobs.Pause(p.ctx, j.ID, reason)
	if err != nil {
		return err
	}
	if ok {
		p.bus.Publish(Event{
			Kind:       EventJob,
			JobID:      j.ID,
			CampaignID: j.CampaignID,
			JobType:    j.Type,
			Status:     job.StatusPaused,
			Service:    j.Service,
			Reason:     reason,
		})
	}
	return nil
}

// finalize applies the terminal transition and recomputes the owning
// campaign's status from job-completion accounting. If the conditional
// update lost (the job was paused mid-execution by a sweep), the terminal
// state is discarded: the job will re-run after resume.
func (p *Pool) finalize(j *job.Job, completed bool, errMsg string) error {
	var ok bool
	var err error
	status := job.StatusCompleted
	if completed {
		ok, err = p.jobs.Complete(p.ctx, j.ID)
	} else {
		status = job.StatusFailed
		ok, err = p.jobs.Fail(p.ctx, j.ID, errMsg)
	}
	if err != nil {
		return err
	}
	if !ok {
		p.log.Debugw("Terminal transition skipped; job no longer processing", "job_id", j.ID)
		return nil
	}

	p.bus.Publish(Event{
		Kind:       EventJob,
		JobID:      j.ID,
		CampaignID: j.CampaignID,
		JobType:    j.Type,
		Status:     status,
		Service:    j.Service,
		Reason:     errMsg,
	})

	if _, err := p.campaigns.Recompute(p.ctx, j.CampaignID); err != nil {
		return errors.Wrapf(err, "failed to recompute campaign %s", j.CampaignID)
	}
	return nil
}
