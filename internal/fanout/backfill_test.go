package fanout_test

import (
	"testing"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/fanout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBackfill(store *fakeStore, publisher *capturePublisher, batchSize int) *fanout.Backfill {
	return fanout.NewBackfill(
		store, store, store, publisher, 6*time.Hour, testFreshness, batchSize, zap.NewNop(),
	)
}

func TestHandleFollowCreatedBackfills(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	publisher := &capturePublisher{}
	backfill := newBackfill(store, publisher, 2)

	ctx := t.Context()
	now := time.Now().UTC()

	store.addUser(1, nil)
	store.addEdge(1, 1, 2)

	// Five fresh closed sessions across three batches of two
	for i := int64(1); i <= 5; i++ {
		store.addSession(newClosedSession(i, 2, now.Add(-time.Duration(i)*24*time.Hour), 480))
	}

	// Stale and open sessions are never replayed
	store.addSession(newClosedSession(8, 2, now.Add(-30*24*time.Hour), 480))
	store.addSession(&fakeOpenSession)

	require.NoError(t, backfill.HandleFollowCreated(ctx, 1, 2))

	inserts := publisher.inserts()
	require.Len(t, inserts, 5)

	seen := make(map[int64]bool)
	for _, insert := range inserts {
		assert.Equal(t, int64(1), insert.TargetUserID)

		seen[insert.SessionID] = true
	}

	for i := int64(1); i <= 5; i++ {
		assert.True(t, seen[i])
	}

	// Cooldown marker was stamped
	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user.LastBackfillAt)
}

func TestHandleFollowCreatedHonorsCooldown(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	publisher := &capturePublisher{}
	backfill := newBackfill(store, publisher, 10)

	ctx := t.Context()
	now := time.Now().UTC()
	recent := now.Add(-time.Hour)

	store.addUser(1, &recent)
	store.addEdge(1, 1, 2)
	store.addSession(newClosedSession(10, 2, now.Add(-24*time.Hour), 480))

	require.NoError(t, backfill.HandleFollowCreated(ctx, 1, 2))

	assert.Empty(t, publisher.published())
}

func TestHandleFollowCreatedRunsAfterCooldownExpires(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	publisher := &capturePublisher{}
	backfill := newBackfill(store, publisher, 10)

	ctx := t.Context()
	now := time.Now().UTC()
	old := now.Add(-7 * time.Hour)

	store.addUser(1, &old)
	store.addEdge(1, 1, 2)
	store.addSession(newClosedSession(10, 2, now.Add(-24*time.Hour), 480))

	require.NoError(t, backfill.HandleFollowCreated(ctx, 1, 2))

	require.Len(t, publisher.inserts(), 1)

	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user.LastBackfillAt)
	assert.True(t, user.LastBackfillAt.After(old))
}

func TestHandleFollowCreatedSkipsMissingUserOrEdge(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	publisher := &capturePublisher{}
	backfill := newBackfill(store, publisher, 10)

	ctx := t.Context()
	now := time.Now().UTC()

	store.addSession(newClosedSession(10, 2, now.Add(-24*time.Hour), 480))

	// Follower row is gone
	require.NoError(t, backfill.HandleFollowCreated(ctx, 99, 2))
	assert.Empty(t, publisher.published())

	// Follower exists but the edge was already removed again
	store.addUser(1, nil)
	require.NoError(t, backfill.HandleFollowCreated(ctx, 1, 2))
	assert.Empty(t, publisher.published())
}

func TestBackfillFollowing(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	publisher := &capturePublisher{}
	backfill := newBackfill(store, publisher, 10)

	ctx := t.Context()
	now := time.Now().UTC()

	store.addUser(1, nil)
	store.addEdge(1, 1, 2)
	store.addEdge(2, 1, 3)

	store.addSession(newClosedSession(10, 2, now.Add(-24*time.Hour), 480))
	store.addSession(newClosedSession(11, 3, now.Add(-48*time.Hour), 400))

	// A producer the user does not follow
	store.addSession(newClosedSession(12, 4, now.Add(-24*time.Hour), 480))

	require.NoError(t, backfill.BackfillFollowing(ctx, 1))

	inserts := publisher.inserts()
	require.Len(t, inserts, 2)

	seen := make(map[int64]bool)
	for _, insert := range inserts {
		assert.Equal(t, int64(1), insert.TargetUserID)

		seen[insert.SessionID] = true
	}

	assert.True(t, seen[10])
	assert.True(t, seen[11])
}
