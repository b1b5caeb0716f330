// Package breaker implements per-service circuit breakers over the shared
// store. Breakers gate calls to third-party services and, on a threshold
// breach, drive the pause sweep that parks affected jobs.
package breaker

// Service identifies a third-party dependency guarded by a circuit breaker.
type Service string

const (
	ServiceLeadSource   Service = "lead-source"
	ServiceEnrichment   Service = "enrichment"
	ServiceCopyGen      Service = "copy-gen"
	ServiceOutreach     Service = "outreach"
	ServiceVerification Service = "verification"
)

// KnownServices returns every service the system guards, in a stable order.
func KnownServices() []Service {
	return []Service{
		ServiceLeadSource,
		ServiceEnrichment,
		ServiceCopyGen,
		ServiceOutreach,
		ServiceVerification,
	}
}

// IsKnownService returns true if s names a guarded service.
func IsKnownService(s string) bool {
	for _, svc := range KnownServices() {
		if Service(s) == svc {
			return true
		}
	}
	return false
}

// State represents circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Outcome classifies the result of a single third-party call. The breaker
// treats retryable and fatal failures identically for accounting purposes;
// the distinction only matters to the caller's own retry policy.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetryableFailure Outcome = "retryable_failure"
	OutcomeFatalFailure     Outcome = "fatal_failure"
)

// IsFailure returns true for either failure outcome.
func (o Outcome) IsFailure() bool {
	return o == OutcomeRetryableFailure || o == OutcomeFatalFailure
}
