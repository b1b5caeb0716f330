// Package server exposes the campaignd HTTP API: queue status and breaker
// recovery operations, campaign CRUD, and a live event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/campaign"
	"github.com/relayloop/campaignd/job"
	"github.com/relayloop/campaignd/queue"
)

// Server is the campaignd HTTP API server.
type Server struct {
	httpServer  *http.Server
	breaker     *breaker.Breaker
	coordinator *queue.Coordinator
	reporter    *queue.Reporter
	campaigns   *campaign.Store
	jobs        *job.Store
	dispatcher  queue.Dispatcher
	bus         *queue.Bus
	log         *zap.SugaredLogger
}

// New creates the API server listening on port.
func New(port int, br *breaker.Breaker, coord *queue.Coordinator, reporter *queue.Reporter, campaigns *campaign.Store, jobs *job.Store, dispatcher queue.Dispatcher, bus *queue.Bus, log *zap.SugaredLogger) *Server {
	s := &Server{
		breaker:     br,
		coordinator: coord,
		reporter:    reporter,
		campaigns:   campaigns,
		jobs:        jobs,
		dispatcher:  dispatcher,
		bus:         bus,
		log:         log.Named("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /queue/status", s.handleQueueStatus)
	mux.HandleFunc("POST /queue/close-circuit-breaker", s.handleCloseCircuitBreaker)
	mux.HandleFunc("POST /queue/resume-queue", s.handleResumeQueue)
	mux.HandleFunc("GET /queue/jobs", s.handleListJobs)
	mux.HandleFunc("GET /queue/events", s.handleEvents)
	mux.HandleFunc("POST /campaigns", s.handleCreateCampaign)
	mux.HandleFunc("GET /campaigns", s.handleListCampaigns)
	mux.HandleFunc("GET /campaigns/{id}", s.handleGetCampaign)
	mux.HandleFunc("POST /campaigns/{id}/start", s.handleStartCampaign)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event stream holds connections open
	}
	return s
}

// Start runs the HTTP server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Infow("HTTP server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
