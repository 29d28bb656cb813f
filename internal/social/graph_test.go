package social

import (
	"context"
	"errors"
	"testing"

	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var errDuplicateEdge = errors.New("duplicate edge")

// fakeUserStore serves users from a map and records counter adjustments
// as (follower, followee, delta) triples.
type fakeUserStore struct {
	users    map[int64]*types.User
	adjusted [][3]int64
}

func (f *fakeUserStore) GetUserTx(_ context.Context, _ bun.IDB, id int64) (*types.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, types.ErrUserNotFound
	}

	return user, nil
}

func (f *fakeUserStore) AdjustFollowCounters(
	_ context.Context, _ bun.IDB, followerID, followeeID, delta int64,
) error {
	f.adjusted = append(f.adjusted, [3]int64{followerID, followeeID, delta})

	return nil
}

// fakeFollowStore keeps edges in a set and reports an existing edge the
// way the database reports a unique violation.
type fakeFollowStore struct {
	edges map[[2]int64]bool
}

func (f *fakeFollowStore) CreateEdge(_ context.Context, _ bun.IDB, follow *types.Follow) error {
	key := [2]int64{follow.UserID, follow.TargetUserID}
	if f.edges[key] {
		return errDuplicateEdge
	}

	f.edges[key] = true

	return nil
}

func (f *fakeFollowStore) DeleteEdge(
	_ context.Context, _ bun.IDB, followerID, followeeID int64,
) (int64, error) {
	key := [2]int64{followerID, followeeID}
	if !f.edges[key] {
		return 0, nil
	}

	delete(f.edges, key)

	return 1, nil
}

type capturePublisher struct {
	published []events.Event
	err       error
}

func (p *capturePublisher) Publish(_ context.Context, event events.Event) error {
	if p.err != nil {
		return p.err
	}

	p.published = append(p.published, event)

	return nil
}

func setupGraph(userIDs ...int64) (*Graph, *fakeUserStore, *fakeFollowStore, *capturePublisher) {
	users := &fakeUserStore{users: make(map[int64]*types.User)}
	for _, id := range userIDs {
		users.users[id] = &types.User{ID: id}
	}

	follows := &fakeFollowStore{edges: make(map[[2]int64]bool)}
	publisher := &capturePublisher{}

	graph := &Graph{
		runTx: func(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
			return fn(ctx, bun.Tx{})
		},
		users:       users,
		follows:     follows,
		publisher:   publisher,
		isDuplicate: func(err error) bool { return errors.Is(err, errDuplicateEdge) },
		logger:      zap.NewNop(),
	}

	return graph, users, follows, publisher
}

func TestFollowRejectsSelf(t *testing.T) {
	t.Parallel()

	graph, users, _, publisher := setupGraph(7)

	_, err := graph.Follow(t.Context(), 7, 7)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Contains(t, err.Error(), "cannot follow yourself")
	assert.Empty(t, users.adjusted)
	assert.Empty(t, publisher.published)
}

func TestFollowMissingTargetIsNotFound(t *testing.T) {
	t.Parallel()

	graph, _, _, publisher := setupGraph(1)

	_, err := graph.Follow(t.Context(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	assert.Contains(t, err.Error(), "Record not found")
	assert.Empty(t, publisher.published)
}

func TestFollowCreatesEdgeAndPublishes(t *testing.T) {
	t.Parallel()

	graph, users, follows, publisher := setupGraph(1, 2)

	follow, err := graph.Follow(t.Context(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), follow.UserID)
	assert.Equal(t, int64(2), follow.TargetUserID)

	assert.True(t, follows.edges[[2]int64{1, 2}])
	assert.Equal(t, [][3]int64{{1, 2, 1}}, users.adjusted)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, events.FollowCreated{FollowerID: 1, FolloweeID: 2}, publisher.published[0])
}

func TestFollowDuplicateIsConflict(t *testing.T) {
	t.Parallel()

	graph, users, _, publisher := setupGraph(1, 2)

	_, err := graph.Follow(t.Context(), 1, 2)
	require.NoError(t, err)

	_, err = graph.Follow(t.Context(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), "Duplicate record")

	// Only the first follow adjusted counters and published
	assert.Len(t, users.adjusted, 1)
	assert.Len(t, publisher.published, 1)
}

func TestFollowAbortsWhenPublishFails(t *testing.T) {
	t.Parallel()

	graph, _, _, publisher := setupGraph(1, 2)
	publisher.err = errs.New(errs.KindTransient, "bus unavailable")

	_, err := graph.Follow(t.Context(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, errs.KindTransient, errs.KindOf(err))
}

func TestUnfollowMissingEdgeIsNotFound(t *testing.T) {
	t.Parallel()

	graph, users, _, publisher := setupGraph(1, 2)

	err := graph.Unfollow(t.Context(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	assert.Contains(t, err.Error(), "Record not found")
	assert.Empty(t, users.adjusted)
	assert.Empty(t, publisher.published)
}

func TestUnfollowRemovesEdgeAndPublishes(t *testing.T) {
	t.Parallel()

	graph, users, follows, publisher := setupGraph(1, 2)

	_, err := graph.Follow(t.Context(), 1, 2)
	require.NoError(t, err)

	require.NoError(t, graph.Unfollow(t.Context(), 1, 2))
	assert.False(t, follows.edges[[2]int64{1, 2}])
	assert.Equal(t, [][3]int64{{1, 2, 1}, {1, 2, -1}}, users.adjusted)

	require.Len(t, publisher.published, 2)
	assert.Equal(t, events.Unfollowed{FollowerID: 1, FolloweeID: 2}, publisher.published[1])
}
