// Package social implements the follow graph: edge creation and removal
// with atomically maintained follower counters and synchronous event
// publication.
package social

import (
	"context"
	"errors"

	"github.com/sleepsocial/sleepsocial/internal/bus"
	"github.com/sleepsocial/sleepsocial/internal/database"
	"github.com/sleepsocial/sleepsocial/internal/database/dbretry"
	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// UserStore is the slice of user persistence the graph mutates.
type UserStore interface {
	GetUserTx(ctx context.Context, tx bun.IDB, id int64) (*types.User, error)
	AdjustFollowCounters(ctx context.Context, tx bun.IDB, followerID, followeeID, delta int64) error
}

// FollowStore is the slice of follow-edge persistence the graph mutates.
type FollowStore interface {
	CreateEdge(ctx context.Context, tx bun.IDB, follow *types.Follow) error
	DeleteEdge(ctx context.Context, tx bun.IDB, followerID, followeeID int64) (int64, error)
}

// txRunner executes fn transactionally and commits only when fn succeeds.
type txRunner func(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error

// Graph is the follow/unfollow service. Every mutation commits the edge,
// both cached counters, and the event publish as one unit: if the bus does
// not accept the event, the whole operation rolls back.
type Graph struct {
	runTx       txRunner
	users       UserStore
	follows     FollowStore
	publisher   bus.Publisher
	isDuplicate func(error) bool
	logger      *zap.Logger
}

// NewGraph creates a social graph service.
func NewGraph(db database.Client, publisher bus.Publisher, logger *zap.Logger) *Graph {
	bunDB := db.DB()

	return &Graph{
		runTx: func(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
			return database.RunInSerializableTx(ctx, bunDB, fn)
		},
		users:       db.Model().User(),
		follows:     db.Model().Follow(),
		publisher:   publisher,
		isDuplicate: dbretry.IsUniqueViolation,
		logger:      logger.Named("social_graph"),
	}
}

// Follow creates the edge from userID to targetID and publishes
// FollowCreated. A concurrent duplicate surfaces as a conflict with no
// counter drift; following yourself is rejected outright.
func (g *Graph) Follow(ctx context.Context, userID, targetID int64) (*types.Follow, error) {
	if userID == targetID {
		return nil, errs.New(errs.KindValidation, "cannot follow yourself")
	}

	follow := &types.Follow{
		UserID:       userID,
		TargetUserID: targetID,
	}

	err := g.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := g.users.GetUserTx(ctx, tx, targetID); err != nil {
			if errors.Is(err, types.ErrUserNotFound) {
				return errs.New(errs.KindNotFound, "Record not found")
			}

			return errs.WrapMsg(errs.KindTransient, "failed to load target user", err)
		}

		if err := g.follows.CreateEdge(ctx, tx, follow); err != nil {
			if g.isDuplicate(err) {
				return errs.New(errs.KindConflict, "Duplicate record")
			}

			return errs.WrapMsg(errs.KindTransient, "failed to create follow edge", err)
		}

		if err := g.users.AdjustFollowCounters(ctx, tx, userID, targetID, 1); err != nil {
			return errs.WrapMsg(errs.KindTransient, "failed to adjust follow counters", err)
		}

		// Publishing inside the transaction ties the commit to delivery:
		// fan-out is never silently lost.
		return g.publisher.Publish(ctx, events.FollowCreated{
			FollowerID: userID,
			FolloweeID: targetID,
		})
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("Created follow edge",
		zap.Int64("followerID", userID),
		zap.Int64("followeeID", targetID))

	return follow, nil
}

// Unfollow removes the edge from userID to targetID and publishes
// Unfollowed. Removing an absent edge is a not-found error.
func (g *Graph) Unfollow(ctx context.Context, userID, targetID int64) error {
	err := g.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		affected, err := g.follows.DeleteEdge(ctx, tx, userID, targetID)
		if err != nil {
			return errs.WrapMsg(errs.KindTransient, "failed to delete follow edge", err)
		}

		if affected == 0 {
			return errs.New(errs.KindNotFound, "Record not found")
		}

		if err := g.users.AdjustFollowCounters(ctx, tx, userID, targetID, -1); err != nil {
			return errs.WrapMsg(errs.KindTransient, "failed to adjust follow counters", err)
		}

		return g.publisher.Publish(ctx, events.Unfollowed{
			FollowerID: userID,
			FolloweeID: targetID,
		})
	})
	if err != nil {
		return err
	}

	g.logger.Info("Removed follow edge",
		zap.Int64("followerID", userID),
		zap.Int64("followeeID", targetID))

	return nil
}
