package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/bus"
	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// DefaultBackfillCooldown rate-limits how often a single follower's feed
// is backfilled, across all of their new follow edges.
const DefaultBackfillCooldown = 6 * time.Hour

// Backfill replays a followee's recent closed sessions into a new
// follower's feed. Replay is batched with a durability barrier between
// batches so at most one batch of InsertEntry events is in flight per run.
type Backfill struct {
	users     UserStore
	follows   FollowStore
	sessions  SessionStore
	publisher bus.Publisher
	cooldown  time.Duration
	freshness time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewBackfill creates a backfill coordinator.
func NewBackfill(
	users UserStore,
	follows FollowStore,
	sessions SessionStore,
	publisher bus.Publisher,
	cooldown time.Duration,
	freshness time.Duration,
	batchSize int,
	logger *zap.Logger,
) *Backfill {
	if cooldown <= 0 {
		cooldown = DefaultBackfillCooldown
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Backfill{
		users:     users,
		follows:   follows,
		sessions:  sessions,
		publisher: publisher,
		cooldown:  cooldown,
		freshness: freshness,
		batchSize: batchSize,
		logger:    logger.Named("backfill"),
	}
}

// HandleFollowCreated backfills the new followee's recent history into the
// follower's feed, unless the follower backfilled recently. The cooldown
// is per follower, not per edge: a follower who just backfilled for anyone
// skips backfill for a new followee too.
func (b *Backfill) HandleFollowCreated(ctx context.Context, followerID, followeeID int64) error {
	proceed, err := b.checkAndStampCooldown(ctx, followerID)
	if err != nil || !proceed {
		return err
	}

	return b.backfillFromFollowee(ctx, followerID, followeeID)
}

// BackfillFollowing replays recent history from every user the follower
// currently follows, one followee at a time. Used after bulk edge creation.
func (b *Backfill) BackfillFollowing(ctx context.Context, followerID int64) error {
	proceed, err := b.checkAndStampCooldown(ctx, followerID)
	if err != nil || !proceed {
		return err
	}

	var afterID int64

	for {
		following, err := b.follows.GetFollowingPage(ctx, followerID, afterID, b.batchSize)
		if err != nil {
			return errs.WrapMsg(errs.KindTransient, "failed to page following", err)
		}

		if len(following) == 0 {
			return nil
		}

		for _, edge := range following {
			if err := b.backfillFromFollowee(ctx, followerID, edge.TargetUserID); err != nil {
				return err
			}
		}

		afterID = following[len(following)-1].ID

		if len(following) < b.batchSize {
			return nil
		}
	}
}

// checkAndStampCooldown reports whether backfill should run, stamping the
// cooldown marker before any replay work. Stamping first means a failure
// mid-backfill waits out the cooldown instead of retry-storming the bus.
func (b *Backfill) checkAndStampCooldown(ctx context.Context, followerID int64) (bool, error) {
	user, err := b.users.GetUser(ctx, followerID)
	if err != nil {
		if errors.Is(err, types.ErrUserNotFound) {
			return false, nil
		}

		return false, errs.WrapMsg(errs.KindTransient, "failed to load follower", err)
	}

	if user.LastBackfillAt != nil && time.Since(*user.LastBackfillAt) < b.cooldown {
		b.logger.Debug("Skipping backfill inside cooldown window",
			zap.Int64("followerID", followerID),
			zap.Time("lastBackfillAt", *user.LastBackfillAt))

		return false, nil
	}

	if err := b.users.SetLastBackfillAt(ctx, followerID, time.Now().UTC()); err != nil {
		return false, errs.WrapMsg(errs.KindTransient, "failed to stamp backfill cooldown", err)
	}

	return true, nil
}

// backfillFromFollowee streams the followee's fresh closed sessions in
// ID-ordered batches, publishing InsertEntry events for each batch and
// blocking on the batch's delivery before requesting the next one.
func (b *Backfill) backfillFromFollowee(ctx context.Context, followerID, followeeID int64) error {
	// The edge may already be gone again; the insert handler re-validates
	// anyway, this just avoids pointless replay work.
	exists, err := b.follows.EdgeExists(ctx, followerID, followeeID)
	if err != nil {
		return errs.WrapMsg(errs.KindTransient, "failed to check follow edge", err)
	}

	if !exists {
		return nil
	}

	threshold := time.Now().UTC().Add(-b.freshness)

	var (
		afterID int64
		total   int
	)

	for {
		sessions, err := b.sessions.GetFreshClosedSessionsPage(ctx, followeeID, threshold, afterID, b.batchSize)
		if err != nil {
			return errs.WrapMsg(errs.KindTransient, "failed to page sessions", err)
		}

		if len(sessions) == 0 {
			break
		}

		// Publish the batch, then wait: the barrier bounds in-flight
		// events to one batch per backfill run.
		p := pool.New().WithContext(ctx)

		for _, session := range sessions {
			p.Go(func(ctx context.Context) error {
				return b.publisher.Publish(ctx, events.InsertEntry{
					TargetUserID: followerID,
					SessionID:    session.ID,
				})
			})
		}

		if err := p.Wait(); err != nil {
			return err
		}

		total += len(sessions)
		afterID = sessions[len(sessions)-1].ID

		if len(sessions) < b.batchSize {
			break
		}
	}

	b.logger.Info("Backfilled feed",
		zap.Int64("followerID", followerID),
		zap.Int64("followeeID", followeeID),
		zap.Int("sessions", total))

	return nil
}
