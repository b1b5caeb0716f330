package server

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/job"
)

// handleQueueStatus returns the breaker states and job counts snapshot.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.reporter.GetStatus(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type closeBreakerRequest struct {
	Service string `json:"service"`
	Reason  string `json:"reason,omitempty"`
}

type closeBreakerResponse struct {
	Service       string        `json:"service"`
	PreviousState breaker.State `json:"previous_state"`
	State         breaker.State `json:"state"`
	JobsResumed   int           `json:"jobs_resumed"`
}

// handleCloseCircuitBreaker forces one service's breaker closed and resumes
// its paused jobs. Closing an already-closed breaker is a no-op that resumes
// nothing; POST /queue/resume-queue is the recovery path for paused jobs
// orphaned by a crash mid-resume.
func (s *Server) handleCloseCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	var req closeBreakerRequest
	if !readJSON(w, r, &req) {
		return
	}

	svc := breaker.Service(req.Service)
	if !breaker.IsKnownService(req.Service) {
		writeError(w, http.StatusBadRequest, "unknown service: "+req.Service)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "manually closed via API"
	}

	tr, err := s.breaker.ManuallyClose(r.Context(), svc, reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resumed := 0
	if tr.From != breaker.StateClosed {
		resumed, err = s.coordinator.OnBreakerClosed(r.Context(), svc)
		if err != nil {
			writeStoreError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, closeBreakerResponse{
		Service:       string(svc),
		PreviousState: tr.From,
		State:         tr.To,
		JobsResumed:   resumed,
	})
}

type resumeQueueResponse struct {
	JobsResumed      int      `json:"jobs_resumed"`
	ServicesResumed  []string `json:"services_resumed"`
	BlockingServices []string `json:"blocking_services,omitempty"`
}

// handleResumeQueue re-dispatches every paused job, across all services.
// Refused while any breaker is still open or half-open: resuming jobs whose
// service is known-unavailable would immediately re-fail them. Safe to call
// repeatedly; a run with nothing paused resumes zero jobs.
func (s *Server) handleResumeQueue(w http.ResponseWriter, r *http.Request) {
	records, err := s.breaker.Health().List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var blocking []string
	for _, svc := range breaker.KnownServices() {
		// No record means no outcome was ever recorded: implicitly closed.
		if rec, ok := records[svc]; ok && rec.State != breaker.StateClosed {
			blocking = append(blocking, string(svc))
		}
	}
	if len(blocking) > 0 {
		sort.Strings(blocking)
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":             "cannot resume queue while circuit breakers are not closed",
			"blocking_services": blocking,
		})
		return
	}

	total := 0
	var servicesResumed []string
	for _, svc := range breaker.KnownServices() {
		n, err := s.coordinator.OnBreakerClosed(r.Context(), svc)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		total += n
		if n > 0 {
			servicesResumed = append(servicesResumed, string(svc))
		}
	}
	sort.Strings(servicesResumed)
	if servicesResumed == nil {
		servicesResumed = []string{}
	}

	writeJSON(w, http.StatusOK, resumeQueueResponse{
		JobsResumed:     total,
		ServicesResumed: servicesResumed,
	})
}

// handleListJobs lists jobs, optionally filtered by status.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statusFilter *job.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !job.IsValidStatus(raw) {
			writeError(w, http.StatusBadRequest, "invalid status: "+raw)
			return
		}
		st := job.Status(raw)
		statusFilter = &st
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		limit = n
	}

	jobs, err := s.jobs.List(r.Context(), statusFilter, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
