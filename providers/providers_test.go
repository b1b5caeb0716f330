package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayloop/campaignd/breaker"
	cdtest "github.com/relayloop/campaignd/internal/testing"
	"github.com/relayloop/campaignd/job"
	"github.com/relayloop/campaignd/queue"
)

func TestRegisterOnlyWiresConfiguredProviders(t *testing.T) {
	conn := cdtest.CreateTestDB(t)
	log := zap.NewNop().Sugar()
	br := breaker.New(breaker.NewHealthStore(conn, nil, 5), log)
	jobs := job.NewStore(conn)
	reg := queue.NewRegistry()

	cfg := DefaultConfig()
	cfg.URLs[breaker.ServiceEnrichment] = "http://enrichment.test/enrich"

	Register(reg, br, jobs, cfg, log)

	assert.NotNil(t, reg.Get(job.TypeEnrichLead))
	assert.NotNil(t, reg.Get(job.TypeCleanup), "cleanup needs no provider endpoint")
	assert.Nil(t, reg.Get(job.TypeFetchLeads))
	assert.Nil(t, reg.Get(job.TypeCreateOutreach))
	assert.ElementsMatch(t, []job.Type{job.TypeEnrichLead, job.TypeCleanup}, reg.Types())
}

func TestCleanupHandlerDeletesOldTerminalJobs(t *testing.T) {
	conn := cdtest.CreateTestDB(t)
	jobs := job.NewStore(conn)
	ctx := context.Background()

	now := time.Now()
	_, err := conn.Exec(
		`INSERT INTO campaigns (id, name, status, created_at, updated_at) VALUES ('c1', 'x', 'completed', ?, ?)`,
		now, now)
	require.NoError(t, err)
	_, err = conn.Exec(
		`INSERT INTO jobs (id, campaign_id, type, service, status, created_at, updated_at)
		 VALUES ('j1', 'c1', 'enrich-lead', 'enrichment', 'completed', ?, ?)`,
		now.Add(-60*24*time.Hour), now.Add(-60*24*time.Hour))
	require.NoError(t, err)

	h := newCleanupHandler(jobs, 30*24*time.Hour, zap.NewNop().Sugar())
	require.NoError(t, h.Execute(ctx, job.New("c1", job.TypeCleanup)))

	counts, err := jobs.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[job.StatusCompleted])
}
