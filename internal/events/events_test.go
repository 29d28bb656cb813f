package events_test

import (
	"testing"

	"github.com/sleepsocial/sleepsocial/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	payload, err := events.Marshal(events.FollowCreated{FollowerID: 1, FolloweeID: 2})
	require.NoError(t, err)

	env, err := events.Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, events.NameFollowCreated, env.EventName)

	follow, err := events.Decode[events.FollowCreated](env)
	require.NoError(t, err)
	assert.Equal(t, int64(1), follow.FollowerID)
	assert.Equal(t, int64(2), follow.FolloweeID)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := events.Unmarshal([]byte("{not json"))
	require.Error(t, err)
}

func TestRoutingKeys(t *testing.T) {
	t.Parallel()

	// Follow lifecycle events route by follower so one user's feed
	// mutations stay ordered
	assert.Equal(t, "7", events.FollowCreated{FollowerID: 7, FolloweeID: 9}.RoutingKey())
	assert.Equal(t, "7", events.Unfollowed{FollowerID: 7, FolloweeID: 9}.RoutingKey())
	assert.Equal(t, "7", events.InsertEntry{TargetUserID: 7, SessionID: 9}.RoutingKey())

	// Closed sessions route by owner
	assert.Equal(t, "9", events.SessionClosed{OwnerID: 9, SessionID: 7}.RoutingKey())
}

func TestTopics(t *testing.T) {
	t.Parallel()

	assert.Equal(t, events.TopicFeedUpdates, events.FollowCreated{}.Topic())
	assert.Equal(t, events.TopicFeedUpdates, events.Unfollowed{}.Topic())
	assert.Equal(t, events.TopicFeedUpdates, events.InsertEntry{}.Topic())
	assert.Equal(t, events.TopicSessionClosed, events.SessionClosed{}.Topic())
}
