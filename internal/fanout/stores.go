// Package fanout consumes domain events and maintains the per-user feeds:
// inserting closed sessions into follower feeds, purging unfollowed
// producers, and backfilling new follow relationships from recent history.
package fanout

import (
	"context"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/database/types"
)

// UserStore is the slice of user persistence the fan-out path needs.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*types.User, error)
	SetLastBackfillAt(ctx context.Context, id int64, at time.Time) error
}

// FollowStore is the slice of follow-edge persistence the fan-out path needs.
type FollowStore interface {
	EdgeExists(ctx context.Context, followerID, followeeID int64) (bool, error)
	GetFollowersPage(ctx context.Context, followeeID, afterID int64, limit int) ([]*types.Follow, error)
	GetFollowingPage(ctx context.Context, followerID, afterID int64, limit int) ([]*types.Follow, error)
}

// SessionStore is the slice of session persistence the fan-out path needs.
type SessionStore interface {
	GetSession(ctx context.Context, id int64) (*types.SleepSession, error)
	GetFreshClosedSessionsPage(
		ctx context.Context, userID int64, threshold time.Time, afterID int64, limit int,
	) ([]*types.SleepSession, error)
}
