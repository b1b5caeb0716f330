package queue

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/campaign"
	cdtest "github.com/relayloop/campaignd/internal/testing"
	"github.com/relayloop/campaignd/job"
)

// recordingDispatcher captures enqueued job IDs.
type recordingDispatcher struct {
	enqueued []string
}

func (d *recordingDispatcher) Enqueue(ctx context.Context, jobID string, jobType job.Type) error {
	d.enqueued = append(d.enqueued, jobID)
	return nil
}

type coordinatorFixture struct {
	conn       *sql.DB
	jobs       *job.Store
	campaigns  *campaign.Store
	dispatcher *recordingDispatcher
	coord      *Coordinator
	campaignID string
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	conn := cdtest.CreateTestDB(t)
	jobs := job.NewStore(conn)
	campaigns := campaign.NewStore(conn)
	dispatcher := &recordingDispatcher{}
	coord := NewCoordinator(jobs, dispatcher, NewBus(), zap.NewNop().Sugar())

	ctx := context.Background()
	c := campaign.New("fixture")
	require.NoError(t, campaigns.Create(ctx, c))
	started, err := campaigns.Start(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, started)

	return &coordinatorFixture{
		conn:       conn,
		jobs:       jobs,
		campaigns:  campaigns,
		dispatcher: dispatcher,
		coord:      coord,
		campaignID: c.ID,
	}
}

func (f *coordinatorFixture) createJob(t *testing.T, jobType job.Type) *job.Job {
	t.Helper()
	j := job.New(f.campaignID, jobType)
	require.NoError(t, f.jobs.Create(context.Background(), j))
	return j
}

func (f *coordinatorFixture) setStatus(t *testing.T, id string, status job.Status) {
	t.Helper()
	_, err := f.conn.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, status, id)
	require.NoError(t, err)
}

func (f *coordinatorFixture) status(t *testing.T, id string) job.Status {
	t.Helper()
	j, err := f.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return j.Status
}

func TestOnBreakerOpenedPausesOnlyAffectedService(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	enrichPending := f.createJob(t, job.TypeEnrichLead)
	enrichProcessing := f.createJob(t, job.TypeEnrichLead)
	f.setStatus(t, enrichProcessing.ID, job.StatusProcessing)
	enrichDone := f.createJob(t, job.TypeEnrichLead)
	f.setStatus(t, enrichDone.ID, job.StatusCompleted)
	enrichFailed := f.createJob(t, job.TypeEnrichLead)
	f.setStatus(t, enrichFailed.ID, job.StatusFailed)
	outreachPending := f.createJob(t, job.TypeCreateOutreach)

	paused, err := f.coord.OnBreakerOpened(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)
	assert.Equal(t, 2, paused)

	assert.Equal(t, job.StatusPaused, f.status(t, enrichPending.ID))
	assert.Equal(t, job.StatusPaused, f.status(t, enrichProcessing.ID))
	assert.Equal(t, job.StatusCompleted, f.status(t, enrichDone.ID), "terminal jobs are untouched")
	assert.Equal(t, job.StatusFailed, f.status(t, enrichFailed.ID))
	assert.Equal(t, job.StatusPending, f.status(t, outreachPending.ID), "other services are untouched")

	got, err := f.jobs.Get(ctx, enrichPending.ID)
	require.NoError(t, err)
	assert.Equal(t, "paused: enrichment circuit breaker open", got.Error)
}

func TestPauseSweepNeverTouchesCampaign(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	f.createJob(t, job.TypeEnrichLead)
	f.createJob(t, job.TypeEnrichLead)

	_, err := f.coord.OnBreakerOpened(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)

	c, err := f.campaigns.Get(ctx, f.campaignID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusRunning, c.Status,
		"campaign stays running even with every job paused")
}

func TestOnBreakerOpenedIsIdempotent(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	f.createJob(t, job.TypeEnrichLead)

	paused, err := f.coord.OnBreakerOpened(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)
	assert.Equal(t, 1, paused)

	paused, err = f.coord.OnBreakerOpened(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)
	assert.Equal(t, 0, paused, "a re-run finds nothing left to pause")
}

func TestOnBreakerClosedResumesAndDispatches(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	a := f.createJob(t, job.TypeEnrichLead)
	b := f.createJob(t, job.TypeEnrichLead)
	f.setStatus(t, b.ID, job.StatusProcessing)

	_, err := f.coord.OnBreakerOpened(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)

	resumed, err := f.coord.OnBreakerClosed(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, f.dispatcher.enqueued)

	// Both restart from pending with their pause reason cleared, including
	// the one that was processing when the sweep hit.
	for _, id := range []string{a.ID, b.ID} {
		j, err := f.jobs.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusPending, j.Status)
		assert.Empty(t, j.Error)
	}
}

func TestOnBreakerClosedIsIdempotent(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	f.createJob(t, job.TypeEnrichLead)
	_, err := f.coord.OnBreakerOpened(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)

	resumed, err := f.coord.OnBreakerClosed(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	resumed, err = f.coord.OnBreakerClosed(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)
	assert.Equal(t, 0, resumed)
	assert.Len(t, f.dispatcher.enqueued, 1, "no duplicate dispatch on re-run")
}

func TestPauseResumeRoundTrip(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	jobs := make([]*job.Job, 5)
	for i := range jobs {
		jobs[i] = f.createJob(t, job.TypeEnrichLead)
	}

	paused, err := f.coord.OnBreakerOpened(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)
	resumed, err := f.coord.OnBreakerClosed(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)

	assert.Equal(t, paused, resumed)
	for _, j := range jobs {
		assert.Equal(t, job.StatusPending, f.status(t, j.ID))
	}
}
