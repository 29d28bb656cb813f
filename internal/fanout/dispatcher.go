package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/bus"
	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"github.com/sleepsocial/sleepsocial/internal/feed"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultBatchSize pages follower and session queries when no override is
// configured.
const DefaultBatchSize = 500

// Dispatcher applies domain events to the feed cache. Every handler is
// idempotent under redelivery: inserts are deterministic upserts, removals
// of absent members are no-ops, and stale events validate themselves into
// silent skips.
type Dispatcher struct {
	follows   FollowStore
	sessions  SessionStore
	cache     *feed.Cache
	publisher bus.Publisher
	scorer    feed.Scorer
	freshness time.Duration
	batchSize int
	fanOutSem *semaphore.Weighted
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. fanOutConcurrency bounds how many
// follower pages are fanned out at once across all partitions sharing this
// dispatcher.
func NewDispatcher(
	follows FollowStore,
	sessions SessionStore,
	cache *feed.Cache,
	publisher bus.Publisher,
	scorer feed.Scorer,
	freshness time.Duration,
	batchSize int,
	fanOutConcurrency int,
	logger *zap.Logger,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if fanOutConcurrency <= 0 {
		fanOutConcurrency = 1
	}

	return &Dispatcher{
		follows:   follows,
		sessions:  sessions,
		cache:     cache,
		publisher: publisher,
		scorer:    scorer,
		freshness: freshness,
		batchSize: batchSize,
		fanOutSem: semaphore.NewWeighted(int64(fanOutConcurrency)),
		logger:    logger.Named("fanout_dispatcher"),
	}
}

// HandleUnfollowed purges the unfollowed producer's sessions from the
// follower's feed. The feed is bounded, so the full scan is cheap.
func (d *Dispatcher) HandleUnfollowed(ctx context.Context, followerID, followeeID int64) error {
	// The edge may have been re-created between enqueue and consume;
	// purging then would throw away valid entries.
	exists, err := d.follows.EdgeExists(ctx, followerID, followeeID)
	if err != nil {
		return errs.WrapMsg(errs.KindTransient, "failed to check follow edge", err)
	}

	if exists {
		d.logger.Debug("Skipping unfollow purge, user re-followed",
			zap.Int64("followerID", followerID),
			zap.Int64("followeeID", followeeID))

		return nil
	}

	entries, err := d.cache.Query(ctx, followerID, 0, -1)
	if err != nil {
		return err
	}

	var removed []feed.Entry

	for _, entry := range entries {
		if entry.ProducerID == followeeID {
			removed = append(removed, entry)
		}
	}

	if err := d.cache.Remove(ctx, followerID, removed); err != nil {
		return err
	}

	d.logger.Debug("Purged unfollowed producer from feed",
		zap.Int64("followerID", followerID),
		zap.Int64("followeeID", followeeID),
		zap.Int("removed", len(removed)))

	return nil
}

// HandleSessionClosed fans a closed session out to the owner's followers.
// It republishes one InsertEntry per follower, routed by follower ID,
// rather than writing feeds directly: the per-target partition keeps each
// feed's writes ordered and lets consumers load-balance the insert work.
func (d *Dispatcher) HandleSessionClosed(ctx context.Context, ownerID, sessionID int64) error {
	session, err := d.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			return nil
		}

		return errs.WrapMsg(errs.KindTransient, "failed to load session", err)
	}

	if !session.Closed() {
		return nil
	}

	var afterID int64

	for {
		followers, err := d.follows.GetFollowersPage(ctx, ownerID, afterID, d.batchSize)
		if err != nil {
			return errs.WrapMsg(errs.KindTransient, "failed to page followers", err)
		}

		if len(followers) == 0 {
			return nil
		}

		if err := d.publishInserts(ctx, followers, sessionID); err != nil {
			return err
		}

		afterID = followers[len(followers)-1].ID

		if len(followers) < d.batchSize {
			return nil
		}
	}
}

// publishInserts emits InsertEntry events for one follower page under the
// shared fan-out concurrency bound.
func (d *Dispatcher) publishInserts(ctx context.Context, followers []*types.Follow, sessionID int64) error {
	if err := d.fanOutSem.Acquire(ctx, 1); err != nil {
		return errs.WrapMsg(errs.KindTransient, "failed to acquire fan-out slot", err)
	}
	defer d.fanOutSem.Release(1)

	p := pool.New().WithContext(ctx)

	for _, follower := range followers {
		p.Go(func(ctx context.Context) error {
			return d.publisher.Publish(ctx, events.InsertEntry{
				TargetUserID: follower.UserID,
				SessionID:    sessionID,
			})
		})
	}

	return p.Wait()
}

// HandleInsertEntry validates and inserts one session into the target's
// feed. The authorizing state may have changed between enqueue and
// consume, so everything is re-checked here; mismatches are expected races
// and skip silently.
func (d *Dispatcher) HandleInsertEntry(ctx context.Context, targetUserID, sessionID int64) error {
	session, err := d.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			return nil
		}

		return errs.WrapMsg(errs.KindTransient, "failed to load session", err)
	}

	if !session.Closed() {
		return nil
	}

	threshold := time.Now().UTC().Add(-d.freshness)
	if session.ClockIn.Before(threshold) {
		return nil
	}

	follows, err := d.follows.EdgeExists(ctx, targetUserID, session.UserID)
	if err != nil {
		return errs.WrapMsg(errs.KindTransient, "failed to check follow edge", err)
	}

	if !follows {
		return nil
	}

	entry := feed.Entry{
		SessionID:  session.ID,
		ProducerID: session.UserID,
		Timestamp:  session.ClockIn,
	}

	if err := d.cache.Put(ctx, targetUserID, entry, d.scorer(session)); err != nil {
		return err
	}

	return d.cache.EvictOverflow(ctx, targetUserID)
}
