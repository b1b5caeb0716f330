// Package providers implements the job handlers that call third-party
// services. Each handler posts its job to a configured provider endpoint
// through a client.Caller, so every real-world success or failure flows
// into the service's circuit breaker.
package providers

import (
	"time"

	"go.uber.org/zap"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/client"
	"github.com/relayloop/campaignd/job"
	"github.com/relayloop/campaignd/queue"
)

// Config holds provider endpoints and call pacing.
type Config struct {
	// URLs maps a service name to its provider endpoint. Job types whose
	// service has no URL configured get no handler; their jobs fail with
	// "no handler registered" instead of hitting an empty address.
	URLs map[breaker.Service]string

	// RequestsPerSecond paces calls per service. <= 0 disables pacing.
	RequestsPerSecond float64

	// Timeout bounds each provider HTTP call.
	Timeout time.Duration

	// Retention is how long terminal jobs are kept before cleanup.
	Retention time.Duration
}

// DefaultConfig returns provider defaults with no endpoints configured.
func DefaultConfig() Config {
	return Config{
		URLs:              map[breaker.Service]string{},
		RequestsPerSecond: 5,
		Timeout:           30 * time.Second,
		Retention:         30 * 24 * time.Hour,
	}
}

// Register wires one handler per job type into the registry. Pipeline job
// types share a caller per service, so their breaker accounting is
// per-service rather than per-type. The cleanup handler depends on no
// third-party service and is always registered.
func Register(reg *queue.Registry, br *breaker.Breaker, jobs *job.Store, cfg Config, log *zap.SugaredLogger) {
	callers := make(map[breaker.Service]*client.Caller)
	for svc, url := range cfg.URLs {
		if url == "" {
			continue
		}
		callers[svc] = client.NewCaller(svc, br, cfg.RequestsPerSecond, log)
	}

	for _, t := range []job.Type{
		job.TypeFetchLeads,
		job.TypeVerifyEmail,
		job.TypeEnrichLead,
		job.TypeGenerateCopy,
		job.TypeCreateOutreach,
	} {
		svc := job.ServiceFor(t)
		caller, ok := callers[svc]
		if !ok {
			log.Warnw("No provider endpoint configured; job type disabled",
				"type", t, "service", svc)
			continue
		}
		reg.Register(newHTTPHandler(t, cfg.URLs[svc], caller, cfg.Timeout, log))
	}

	reg.Register(newCleanupHandler(jobs, cfg.Retention, log))
}
