package breaker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdtest "github.com/relayloop/campaignd/internal/testing"
)

func newTestHealthStore(t *testing.T, threshold int) *HealthStore {
	t.Helper()
	conn := cdtest.CreateTestDB(t)
	return NewHealthStore(conn, nil, threshold)
}

func TestRecordFailureOpensAtThreshold(t *testing.T) {
	store := newTestHealthStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		breached, err := store.RecordFailure(ctx, ServiceEnrichment, "timeout")
		require.NoError(t, err)
		assert.False(t, breached, "failure %d must not breach a threshold of 3", i+1)
	}

	breached, err := store.RecordFailure(ctx, ServiceEnrichment, "timeout")
	require.NoError(t, err)
	assert.True(t, breached)

	rec, err := store.Get(ctx, ServiceEnrichment)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateOpen, rec.State)
	assert.Equal(t, 3, rec.FailureCount)
	assert.NotNil(t, rec.OpenedAt)
	assert.Equal(t, "timeout", rec.LastError)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	store := newTestHealthStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.RecordFailure(ctx, ServiceOutreach, "503")
		require.NoError(t, err)
	}
	require.NoError(t, store.RecordSuccess(ctx, ServiceOutreach))

	// The counter restarted from zero, so two more failures stay below the
	// threshold.
	for i := 0; i < 2; i++ {
		breached, err := store.RecordFailure(ctx, ServiceOutreach, "503")
		require.NoError(t, err)
		assert.False(t, breached)
	}

	rec, err := store.Get(ctx, ServiceOutreach)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Equal(t, 2, rec.FailureCount)
}

func TestSuccessDoesNotCloseOpenBreaker(t *testing.T) {
	store := newTestHealthStore(t, 1)
	ctx := context.Background()

	breached, err := store.RecordFailure(ctx, ServiceCopyGen, "boom")
	require.NoError(t, err)
	require.True(t, breached)

	// Only a manual close leaves the open state.
	require.NoError(t, store.RecordSuccess(ctx, ServiceCopyGen))

	rec, err := store.Get(ctx, ServiceCopyGen)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, rec.State)
}

func TestConcurrentFailuresBreachExactlyOnce(t *testing.T) {
	store := newTestHealthStore(t, 5)
	ctx := context.Background()

	const reporters = 20
	var wg sync.WaitGroup
	breaches := make(chan bool, reporters)

	for i := 0; i < reporters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			breached, err := store.RecordFailure(ctx, ServiceLeadSource, "connection refused")
			assert.NoError(t, err)
			breaches <- breached
		}()
	}
	wg.Wait()
	close(breaches)

	total := 0
	for b := range breaches {
		if b {
			total++
		}
	}
	assert.Equal(t, 1, total, "exactly one reporter wins the closed-to-open transition")

	rec, err := store.Get(ctx, ServiceLeadSource)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, rec.State)
}

func TestForceCloseReturnsPriorState(t *testing.T) {
	store := newTestHealthStore(t, 1)
	ctx := context.Background()

	breached, err := store.RecordFailure(ctx, ServiceVerification, "boom")
	require.NoError(t, err)
	require.True(t, breached)

	prior, err := store.ForceClose(ctx, ServiceVerification, "operator fixed upstream")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, prior)

	rec, err := store.Get(ctx, ServiceVerification)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Equal(t, 0, rec.FailureCount)
	assert.NotNil(t, rec.ClosedAt)

	// Closing an already-closed breaker is a no-op that reports the fact.
	prior, err = store.ForceClose(ctx, ServiceVerification, "again")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, prior)
}

func TestForceCloseUnknownRecordCreatesClosed(t *testing.T) {
	store := newTestHealthStore(t, 3)
	ctx := context.Background()

	prior, err := store.ForceClose(ctx, ServiceEnrichment, "never used")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, prior)
}

func TestHalfOpenClosesOnSuccess(t *testing.T) {
	store := newTestHealthStore(t, 1)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ServiceOutreach, "boom")
	require.NoError(t, err)

	moved, err := store.MarkHalfOpen(ctx, ServiceOutreach)
	require.NoError(t, err)
	require.True(t, moved)

	require.NoError(t, store.RecordSuccess(ctx, ServiceOutreach))

	rec, err := store.Get(ctx, ServiceOutreach)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Equal(t, 0, rec.FailureCount)
}

func TestHalfOpenReopensOnFailureWithoutBreach(t *testing.T) {
	store := newTestHealthStore(t, 1)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, ServiceOutreach, "boom")
	require.NoError(t, err)

	moved, err := store.MarkHalfOpen(ctx, ServiceOutreach)
	require.NoError(t, err)
	require.True(t, moved)

	// A half-open failure re-opens immediately, but it is not a fresh
	// breach: the affected jobs are already paused.
	breached, err := store.RecordFailure(ctx, ServiceOutreach, "still down")
	require.NoError(t, err)
	assert.False(t, breached)

	rec, err := store.Get(ctx, ServiceOutreach)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, rec.State)
}

func TestMarkHalfOpenRequiresOpen(t *testing.T) {
	store := newTestHealthStore(t, 3)
	ctx := context.Background()

	require.NoError(t, store.RecordSuccess(ctx, ServiceCopyGen))

	moved, err := store.MarkHalfOpen(ctx, ServiceCopyGen)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestThresholdOverrides(t *testing.T) {
	conn := cdtest.CreateTestDB(t)
	store := NewHealthStore(conn, map[Service]int{ServiceOutreach: 2}, 5)

	assert.Equal(t, 2, store.Threshold(ServiceOutreach))
	assert.Equal(t, 5, store.Threshold(ServiceEnrichment))
}

func TestGetUnknownServiceReturnsNil(t *testing.T) {
	store := newTestHealthStore(t, 3)

	rec, err := store.Get(context.Background(), ServiceLeadSource)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
