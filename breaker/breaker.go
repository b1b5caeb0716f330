package breaker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayloop/campaignd/errors"
)

// Transition records a state change for one service's breaker.
type Transition struct {
	Service Service   `json:"service"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
}

// PauseSweeper is the capability the breaker invokes synchronously when a
// breach opens a breaker. By the time ReportOutcome returns, every
// then-visible pending/processing job for the service has been paused.
// The breaker is deliberately not handed any campaign-level capability.
type PauseSweeper interface {
	OnBreakerOpened(ctx context.Context, service Service) (int, error)
}

// Breaker translates third-party call outcomes into health-state
// transitions and answers whether a service may currently be called.
type Breaker struct {
	health  *HealthStore
	sweeper PauseSweeper
	log     *zap.SugaredLogger
}

// New creates a breaker over the shared health store.
func New(health *HealthStore, log *zap.SugaredLogger) *Breaker {
	return &Breaker{health: health, log: log}
}

// SetPauseSweeper wires the pause sweep invoked on a breach. Set once at
// startup, before any outcomes are reported.
func (b *Breaker) SetPauseSweeper(s PauseSweeper) {
	b.sweeper = s
}

// Health exposes the underlying store for read-side consumers.
func (b *Breaker) Health() *HealthStore {
	return b.health
}

// ReportOutcome records the result of a third-party call. A success resets
// the failure counter (and closes a half-open breaker); a failure of either
// kind accumulates toward the threshold. If this report breaches the
// threshold, the closed-to-open transition is returned and the pause sweep
// runs synchronously before this call returns. Concurrent reporters crossing
// the threshold together produce exactly one transition.
func (b *Breaker) ReportOutcome(ctx context.Context, service Service, outcome Outcome, detail string) (*Transition, error) {
	switch {
	case outcome == OutcomeSuccess:
		if err := b.health.RecordSuccess(ctx, service); err != nil {
			return nil, err
		}
		return nil, nil

	case outcome.IsFailure():
		breached, err := b.health.RecordFailure(ctx, service, detail)
		if err != nil {
			return nil, err
		}
		if !breached {
			return nil, nil
		}

		tr := &Transition{Service: service, From: StateClosed, To: StateOpen, At: time.Now()}
		b.log.Warnw("Circuit breaker opened",
			"service", service,
			"threshold", b.health.Threshold(service),
			"last_error", detail)

		if b.sweeper != nil {
			paused, err := b.sweeper.OnBreakerOpened(ctx, service)
			if err != nil {
				return tr, errors.Wrapf(err, "pause sweep failed after %s breaker opened", service)
			}
			b.log.Infow("Pause sweep complete", "service", service, "jobs_paused", paused)
		}
		return tr, nil

	default:
		return nil, errors.Newf("unknown outcome %q for service %s", outcome, service)
	}
}

// Allow reports whether a call to the service is currently permitted.
// Closed and half-open allow; open denies with a reason naming the time the
// breaker opened. A service with no recorded outcomes is implicitly closed.
func (b *Breaker) Allow(ctx context.Context, service Service) (bool, string, error) {
	rec, err := b.health.Get(ctx, service)
	if err != nil {
		return false, "", err
	}
	if rec == nil || rec.State != StateOpen {
		return true, "", nil
	}

	openedAt := "unknown"
	if rec.OpenedAt != nil {
		openedAt = rec.OpenedAt.Format(time.RFC3339)
	}
	return false, fmt.Sprintf("breaker open since %s", openedAt), nil
}

// ManuallyClose forces the breaker closed and resets its counters. This is
// the only path from open to closed. The returned transition always has
// To == closed; callers must inspect From to distinguish a real close from
// an idempotent no-op, and only trigger a resume on an actual state change.
func (b *Breaker) ManuallyClose(ctx context.Context, service Service, reason string) (*Transition, error) {
	prior, err := b.health.ForceClose(ctx, service, reason)
	if err != nil {
		return nil, err
	}

	tr := &Transition{Service: service, From: prior, To: StateClosed, At: time.Now()}
	if prior != StateClosed {
		b.log.Infow("Circuit breaker manually closed",
			"service", service,
			"previous_state", prior,
			"reason", reason)
	}
	return tr, nil
}
