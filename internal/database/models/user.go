package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// UserModel handles database operations for users.
type UserModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewUser creates a new user model.
func NewUser(db *bun.DB, logger *zap.Logger) *UserModel {
	return &UserModel{
		db:     db,
		logger: logger.Named("db_user"),
	}
}

// GetUser retrieves a user by ID.
func (r *UserModel) GetUser(ctx context.Context, id int64) (*types.User, error) {
	return getUser(ctx, r.db, id)
}

// GetUserTx retrieves a user by ID inside an existing transaction.
func (r *UserModel) GetUserTx(ctx context.Context, tx bun.IDB, id int64) (*types.User, error) {
	return getUser(ctx, tx, id)
}

func getUser(ctx context.Context, idb bun.IDB, id int64) (*types.User, error) {
	user := new(types.User)

	err := idb.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrUserNotFound
		}

		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}

	return user, nil
}

// AdjustFollowCounters applies deltas to the cached follow aggregates for
// both sides of an edge. Must run in the same transaction as the edge change.
func (r *UserModel) AdjustFollowCounters(
	ctx context.Context, tx bun.IDB, followerID, followeeID, delta int64,
) error {
	_, err := tx.NewUpdate().
		Model((*types.User)(nil)).
		Set("num_following = num_following + ?", delta).
		Where("id = ?", followerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to adjust num_following for user %d: %w", followerID, err)
	}

	_, err = tx.NewUpdate().
		Model((*types.User)(nil)).
		Set("num_followers = num_followers + ?", delta).
		Where("id = ?", followeeID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to adjust num_followers for user %d: %w", followeeID, err)
	}

	return nil
}

// SetLastBackfillAt stamps the user's backfill cooldown marker.
func (r *UserModel) SetLastBackfillAt(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*types.User)(nil)).
		Set("last_backfill_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set last_backfill_at for user %d: %w", id, err)
	}

	return nil
}
