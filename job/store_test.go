package job

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/errors"
	cdtest "github.com/relayloop/campaignd/internal/testing"
)

// insertCampaign satisfies the jobs foreign key without importing the
// campaign package.
func insertCampaign(t *testing.T, conn *sql.DB) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now()
	_, err := conn.Exec(
		`INSERT INTO campaigns (id, name, status, created_at, updated_at) VALUES (?, ?, 'running', ?, ?)`,
		id, "test campaign", now, now)
	require.NoError(t, err)
	return id
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	conn := cdtest.CreateTestDB(t)
	return NewStore(conn), insertCampaign(t, conn)
}

func TestCreateAndGet(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	j := New(campaignID, TypeEnrichLead)
	require.NoError(t, store.Create(ctx, j))

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, campaignID, got.CampaignID)
	assert.Equal(t, TypeEnrichLead, got.Type)
	assert.Equal(t, breaker.ServiceEnrichment, got.Service)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.StartedAt)
}

func TestGetMissingJobReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestClaimNextPendingOldestFirst(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	older := New(campaignID, TypeFetchLeads)
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, older))

	newer := New(campaignID, TypeVerifyEmail)
	require.NoError(t, store.Create(ctx, newer))

	claimed, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)
}

func TestClaimNextPendingEmptyQueue(t *testing.T) {
	store, _ := newTestStore(t)

	claimed, err := store.ClaimNextPending(context.Background())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestCompleteRequiresProcessing(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	j := New(campaignID, TypeGenerateCopy)
	require.NoError(t, store.Create(ctx, j))

	// Still pending: the transition must not apply.
	ok, err := store.Complete(ctx, j.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	claimed, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	ok, err = store.Complete(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestFailRecordsError(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	j := New(campaignID, TypeCreateOutreach)
	require.NoError(t, store.Create(ctx, j))
	_, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)

	ok, err := store.Fail(ctx, j.ID, "provider rejected payload")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "provider rejected payload", got.Error)
}

func TestRequeueIncrementsRetryCount(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	j := New(campaignID, TypeVerifyEmail)
	require.NoError(t, store.Create(ctx, j))
	_, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)

	ok, err := store.Requeue(ctx, j.ID, "503 from provider")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.StartedAt)
}

func TestPauseOnlyMovesPendingAndProcessing(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	pending := New(campaignID, TypeEnrichLead)
	require.NoError(t, store.Create(ctx, pending))

	done := New(campaignID, TypeEnrichLead)
	require.NoError(t, store.Create(ctx, done))
	_, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)

	// The claim took the older of the two; figure out which one completed.
	first, err := store.Get(ctx, pending.ID)
	require.NoError(t, err)
	processingID := pending.ID
	pendingID := done.ID
	if first.Status == StatusPending {
		processingID = done.ID
		pendingID = pending.ID
	}

	ok, err := store.Complete(ctx, processingID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Pause(ctx, processingID, "paused: enrichment circuit breaker open")
	require.NoError(t, err)
	assert.False(t, ok, "a completed job outranks a pause")

	ok, err = store.Pause(ctx, pendingID, "paused: enrichment circuit breaker open")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Equal(t, "paused: enrichment circuit breaker open", got.Error)
}

func TestResumeClearsErrorAndStart(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	j := New(campaignID, TypeFetchLeads)
	require.NoError(t, store.Create(ctx, j))
	_, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)

	ok, err := store.Pause(ctx, j.ID, "paused: lead-source circuit breaker open")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Resume(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.StartedAt)

	// Resuming twice is a no-op.
	ok, err = store.Resume(ctx, j.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPauseCandidatesFiltersByService(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	enrich := New(campaignID, TypeEnrichLead)
	require.NoError(t, store.Create(ctx, enrich))
	outreach := New(campaignID, TypeCreateOutreach)
	require.NoError(t, store.Create(ctx, outreach))
	cleanup := New(campaignID, TypeCleanup)
	require.NoError(t, store.Create(ctx, cleanup))

	ids, err := store.PauseCandidates(ctx, breaker.ServiceEnrichment)
	require.NoError(t, err)
	assert.Equal(t, []string{enrich.ID}, ids)
}

func TestRecoverOrphans(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	j := New(campaignID, TypeGenerateCopy)
	require.NoError(t, store.Create(ctx, j))
	_, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)

	n, err := store.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
}

func TestCountByStatusAndPausedByService(t *testing.T) {
	store, campaignID := newTestStore(t)
	ctx := context.Background()

	a := New(campaignID, TypeEnrichLead)
	require.NoError(t, store.Create(ctx, a))
	b := New(campaignID, TypeCreateOutreach)
	require.NoError(t, store.Create(ctx, b))

	ok, err := store.Pause(ctx, a.ID, "paused: enrichment circuit breaker open")
	require.NoError(t, err)
	require.True(t, ok)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusPaused])

	paused, err := store.CountPausedByService(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, paused[breaker.ServiceEnrichment])
	assert.Zero(t, paused[breaker.ServiceOutreach])
}

func TestCleanupOldRemovesOnlyStaleTerminalJobs(t *testing.T) {
	store, campaignID := newTestStore(t)
	conn := store.db
	ctx := context.Background()

	stale := New(campaignID, TypeVerifyEmail)
	require.NoError(t, store.Create(ctx, stale))
	fresh := New(campaignID, TypeVerifyEmail)
	require.NoError(t, store.Create(ctx, fresh))
	pending := New(campaignID, TypeVerifyEmail)
	require.NoError(t, store.Create(ctx, pending))

	old := time.Now().Add(-48 * time.Hour)
	_, err := conn.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, old, stale.ID)
	require.NoError(t, err)
	_, err = conn.Exec(`UPDATE jobs SET status = 'completed' WHERE id = ?`, fresh.ID)
	require.NoError(t, err)

	deleted, err := store.CleanupOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Get(ctx, stale.ID)
	assert.True(t, errors.IsNotFoundError(err))

	got, err := store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}
