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

// SleepSessionModel handles database operations for sleep sessions.
type SleepSessionModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewSleepSession creates a new sleep session model.
func NewSleepSession(db *bun.DB, logger *zap.Logger) *SleepSessionModel {
	return &SleepSessionModel{
		db:     db,
		logger: logger.Named("db_sleep_session"),
	}
}

// GetSession retrieves a session by ID.
func (r *SleepSessionModel) GetSession(ctx context.Context, id int64) (*types.SleepSession, error) {
	session := new(types.SleepSession)

	err := r.db.NewSelect().
		Model(session).
		Where("s.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to get sleep session %d: %w", id, err)
	}

	return session, nil
}

// GetSessionForUpdate retrieves a session by ID with a row lock,
// inside an existing transaction.
func (r *SleepSessionModel) GetSessionForUpdate(
	ctx context.Context, tx bun.IDB, id int64,
) (*types.SleepSession, error) {
	session := new(types.SleepSession)

	err := tx.NewSelect().
		Model(session).
		Where("s.id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to lock sleep session %d: %w", id, err)
	}

	return session, nil
}

// GetOpenSession returns the user's open session, or types.ErrSessionNotFound
// when every session is closed.
func (r *SleepSessionModel) GetOpenSession(
	ctx context.Context, tx bun.IDB, userID int64,
) (*types.SleepSession, error) {
	session := new(types.SleepSession)

	err := tx.NewSelect().
		Model(session).
		Where("user_id = ?", userID).
		Where("clock_out IS NULL").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to get open session for user %d: %w", userID, err)
	}

	return session, nil
}

// OverlapExists reports whether any of the user's sessions intersects the
// [clockIn, clockOut] range, boundaries inclusive in both directions.
// A nil clockOut means the new session is open-ended; an open existing
// session is likewise treated as unbounded.
func (r *SleepSessionModel) OverlapExists(
	ctx context.Context, tx bun.IDB, userID int64, clockIn time.Time, clockOut *time.Time,
) (bool, error) {
	query := tx.NewSelect().
		Model((*types.SleepSession)(nil)).
		Where("user_id = ?", userID).
		Where("clock_out IS NULL OR clock_out >= ?", clockIn)

	if clockOut != nil {
		query = query.Where("clock_in <= ?", *clockOut)
	}

	exists, err := query.Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check session overlap for user %d: %w", userID, err)
	}

	return exists, nil
}

// InsertSession inserts a session inside an existing transaction.
func (r *SleepSessionModel) InsertSession(ctx context.Context, tx bun.IDB, session *types.SleepSession) error {
	session.CreatedAt = time.Now().UTC()

	_, err := tx.NewInsert().
		Model(session).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert sleep session: %w", err)
	}

	return nil
}

// UpdateClockOut writes the session's clock-out time inside an existing
// transaction. Callers hold the row lock from GetSessionForUpdate.
func (r *SleepSessionModel) UpdateClockOut(ctx context.Context, tx bun.IDB, session *types.SleepSession) error {
	_, err := tx.NewUpdate().
		Model(session).
		Column("clock_out").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update clock_out for session %d: %w", session.ID, err)
	}

	return nil
}

// GetFreshClosedSessionsPage returns one page of the user's closed sessions
// with clock_in after the freshness threshold, ordered by ID ascending with
// an exclusive cursor.
func (r *SleepSessionModel) GetFreshClosedSessionsPage(
	ctx context.Context, userID int64, threshold time.Time, afterID int64, limit int,
) ([]*types.SleepSession, error) {
	var sessions []*types.SleepSession

	err := r.db.NewSelect().
		Model(&sessions).
		Where("user_id = ?", userID).
		Where("clock_out IS NOT NULL").
		Where("clock_in > ?", threshold).
		Where("s.id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get fresh sessions for user %d: %w", userID, err)
	}

	return sessions, nil
}

// GetSessionsWithUsers batch-loads sessions with their owners in a single
// query. Missing IDs are silently absent from the result.
func (r *SleepSessionModel) GetSessionsWithUsers(ctx context.Context, ids []int64) ([]*types.SleepSession, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var sessions []*types.SleepSession

	err := r.db.NewSelect().
		Model(&sessions).
		Relation("User").
		Where("s.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to batch load sleep sessions: %w", err)
	}

	return sessions, nil
}
