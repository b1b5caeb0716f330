// Package client is the single gateway for calls to third-party services.
// Every outbound call passes through a Caller, which consults the service's
// circuit breaker before the call, paces requests, and reports the outcome
// back to the breaker afterward. Handlers never talk to the breaker
// directly.
package client

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/errors"
)

// Caller wraps calls to one third-party service.
type Caller struct {
	service breaker.Service
	breaker *breaker.Breaker
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewCaller creates a call gateway for a service. requestsPerSecond <= 0
// disables pacing.
func NewCaller(service breaker.Service, br *breaker.Breaker, requestsPerSecond float64, log *zap.SugaredLogger) *Caller {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Caller{
		service: service,
		breaker: br,
		limiter: limiter,
		log:     log.Named(string(service)),
	}
}

// Service returns the third-party service this caller fronts.
func (c *Caller) Service() breaker.Service {
	return c.service
}

// Do runs fn against the service. The breaker is consulted first: if it is
// open the call is refused with ErrBreakerOpen and no outcome is recorded
// (a refused call is not a service failure). Otherwise the outcome of fn is
// classified and reported, and a threshold breach triggers the pause sweep
// synchronously before Do returns.
func (c *Caller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	allowed, reason, err := c.breaker.Allow(ctx, c.service)
	if err != nil {
		return errors.Wrapf(err, "failed to check %s breaker", c.service)
	}
	if !allowed {
		return errors.WithMessagef(errors.ErrBreakerOpen, "%s: %s", c.service, reason)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrapf(err, "rate limit wait for %s", c.service)
		}
	}

	callErr := fn(ctx)

	outcome := breaker.OutcomeSuccess
	var detail string
	if callErr != nil {
		detail = callErr.Error()
		if IsRetryable(callErr) {
			outcome = breaker.OutcomeRetryableFailure
		} else {
			outcome = breaker.OutcomeFatalFailure
		}
	}

	tr, err := c.breaker.ReportOutcome(ctx, c.service, outcome, detail)
	if err != nil {
		// The health write is part of the call contract; surface it even
		// when the call itself succeeded.
		return errors.Wrapf(err, "failed to record %s outcome", c.service)
	}
	if tr != nil {
		c.log.Warnw("Circuit breaker opened",
			"service", tr.Service, "from", tr.From, "to", tr.To)
	}

	return callErr
}
