package models

import (
	"context"
	"fmt"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// FollowModel handles database operations for follow edges.
type FollowModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewFollow creates a new follow model.
func NewFollow(db *bun.DB, logger *zap.Logger) *FollowModel {
	return &FollowModel{
		db:     db,
		logger: logger.Named("db_follow"),
	}
}

// EdgeExists reports whether follower currently follows followee.
func (r *FollowModel) EdgeExists(ctx context.Context, followerID, followeeID int64) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*types.Follow)(nil)).
		Where("user_id = ?", followerID).
		Where("target_user_id = ?", followeeID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check follow edge %d->%d: %w", followerID, followeeID, err)
	}

	return exists, nil
}

// CreateEdge inserts a follow edge inside an existing transaction.
// A duplicate pair surfaces the driver's unique-constraint error unchanged.
func (r *FollowModel) CreateEdge(ctx context.Context, tx bun.IDB, follow *types.Follow) error {
	follow.CreatedAt = time.Now().UTC()

	_, err := tx.NewInsert().
		Model(follow).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create follow edge %d->%d: %w", follow.UserID, follow.TargetUserID, err)
	}

	return nil
}

// DeleteEdge removes a follow edge inside an existing transaction and
// returns the number of rows removed.
func (r *FollowModel) DeleteEdge(ctx context.Context, tx bun.IDB, followerID, followeeID int64) (int64, error) {
	res, err := tx.NewDelete().
		Model((*types.Follow)(nil)).
		Where("user_id = ?", followerID).
		Where("target_user_id = ?", followeeID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete follow edge %d->%d: %w", followerID, followeeID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected, nil
}

// GetFollowersPage returns one page of edges pointing at followee, ordered
// by edge ID ascending. afterID is an exclusive cursor; pass 0 for the
// first page.
func (r *FollowModel) GetFollowersPage(
	ctx context.Context, followeeID, afterID int64, limit int,
) ([]*types.Follow, error) {
	var follows []*types.Follow

	err := r.db.NewSelect().
		Model(&follows).
		Where("target_user_id = ?", followeeID).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get followers page for user %d: %w", followeeID, err)
	}

	return follows, nil
}

// GetFollowingPage returns one page of edges originating at follower,
// ordered by edge ID ascending with an exclusive cursor.
func (r *FollowModel) GetFollowingPage(
	ctx context.Context, followerID, afterID int64, limit int,
) ([]*types.Follow, error) {
	var follows []*types.Follow

	err := r.db.NewSelect().
		Model(&follows).
		Where("user_id = ?", followerID).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get following page for user %d: %w", followerID, err)
	}

	return follows, nil
}
