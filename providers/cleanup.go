package providers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relayloop/campaignd/job"
)

// cleanupHandler deletes old terminal jobs. It calls no third-party service,
// so it carries no service dependency and is never paused by a breaker sweep.
type cleanupHandler struct {
	jobs      *job.Store
	retention time.Duration
	log       *zap.SugaredLogger
}

func newCleanupHandler(jobs *job.Store, retention time.Duration, log *zap.SugaredLogger) *cleanupHandler {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &cleanupHandler{jobs: jobs, retention: retention, log: log.Named("cleanup")}
}

// Type implements queue.Handler.
func (h *cleanupHandler) Type() job.Type {
	return job.TypeCleanup
}

// Execute removes completed and failed jobs older than the retention window.
func (h *cleanupHandler) Execute(ctx context.Context, j *job.Job) error {
	deleted, err := h.jobs.CleanupOld(ctx, h.retention)
	if err != nil {
		return err
	}
	h.log.Infow("Cleaned up old jobs", "deleted", deleted, "retention", h.retention)
	return nil
}
