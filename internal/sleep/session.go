// Package sleep implements the sleep session lifecycle: creating sessions,
// closing them, and publishing the closed-session events that drive fan-out.
package sleep

import (
	"context"
	"errors"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/bus"
	"github.com/sleepsocial/sleepsocial/internal/database"
	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"github.com/sleepsocial/sleepsocial/internal/events"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// DefaultClockSkew is how far into the future a timestamp may sit before it
// is rejected. Clients with slightly fast clocks still get through.
const DefaultClockSkew = 15 * time.Second

// Service manages sleep sessions for their owners.
type Service struct {
	db        *bun.DB
	repo      *database.Repository
	publisher bus.Publisher
	skew      time.Duration
	logger    *zap.Logger
}

// NewService creates a sleep session service. A zero skew falls back to
// DefaultClockSkew.
func NewService(db database.Client, publisher bus.Publisher, skew time.Duration, logger *zap.Logger) *Service {
	if skew <= 0 {
		skew = DefaultClockSkew
	}

	return &Service{
		db:        db.DB(),
		repo:      db.Model(),
		publisher: publisher,
		skew:      skew,
		logger:    logger.Named("sleep_session"),
	}
}

// validateRange checks a clock-in/clock-out pair against the wall clock.
// Kept free of database access so the rules are testable in isolation.
func validateRange(clockIn time.Time, clockOut *time.Time, now time.Time, skew time.Duration) error {
	if clockIn.After(now.Add(skew)) {
		return errs.New(errs.KindValidation, "clock_in must be lower than now")
	}

	if clockOut != nil {
		if clockOut.After(now.Add(skew)) {
			return errs.New(errs.KindValidation, "Clock out must be lower than now")
		}

		if !clockOut.After(clockIn) {
			return errs.New(errs.KindValidation, "clock_out must be greater than clock in")
		}
	}

	return nil
}

// validateExistingState enforces the single-open-session and no-overlap
// rules once the current state has been loaded. An open session blocks any
// new session, even one created already closed, until it is clocked out.
func validateExistingState(hasOpen, overlaps bool) error {
	if hasOpen {
		return errs.New(errs.KindValidation, "must clock out pending log first")
	}

	if overlaps {
		return errs.New(errs.KindValidation, "session overlaps an existing session")
	}

	return nil
}

// validateClockOut checks a clock-out time for an already open session.
func validateClockOut(session *types.SleepSession, clockOut, now time.Time, skew time.Duration) error {
	if session.Closed() {
		return errs.New(errs.KindValidation, "User already clocked out")
	}

	if clockOut.After(now.Add(skew)) {
		return errs.New(errs.KindValidation, "Clock out must be lower than now")
	}

	if !clockOut.After(session.ClockIn) {
		return errs.New(errs.KindValidation, "clock_out must be greater than clock in")
	}

	return nil
}

// Create records a new session for userID. A zero clockIn means "now".
// clockOut is optional: when set, the session is created already closed and
// the closed-session event is published in the same transaction. At most
// one open session may exist per user, and sessions must not overlap.
func (s *Service) Create(
	ctx context.Context, userID int64, clockIn time.Time, clockOut *time.Time,
) (*types.SleepSession, error) {
	now := time.Now().UTC()
	if clockIn.IsZero() {
		clockIn = now
	}

	clockIn = clockIn.UTC()
	if clockOut != nil {
		t := clockOut.UTC()
		clockOut = &t
	}

	if err := validateRange(clockIn, clockOut, now, s.skew); err != nil {
		return nil, err
	}

	session := &types.SleepSession{
		UserID:   userID,
		ClockIn:  clockIn,
		ClockOut: clockOut,
	}

	err := database.RunInSerializableTx(ctx, s.db, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.User().GetUserTx(ctx, tx, userID); err != nil {
			if errors.Is(err, types.ErrUserNotFound) {
				return errs.New(errs.KindNotFound, "Record not found")
			}

			return errs.WrapMsg(errs.KindTransient, "failed to load session owner", err)
		}

		hasOpen := true
		if _, err := s.repo.Session().GetOpenSession(ctx, tx, userID); err != nil {
			if !errors.Is(err, types.ErrSessionNotFound) {
				return errs.WrapMsg(errs.KindTransient, "failed to check open session", err)
			}

			hasOpen = false
		}

		overlaps, err := s.repo.Session().OverlapExists(ctx, tx, userID, clockIn, clockOut)
		if err != nil {
			return errs.WrapMsg(errs.KindTransient, "failed to check session overlap", err)
		}

		if err := validateExistingState(hasOpen, overlaps); err != nil {
			return err
		}

		if err := s.repo.Session().InsertSession(ctx, tx, session); err != nil {
			return errs.WrapMsg(errs.KindTransient, "failed to insert sleep session", err)
		}

		if clockOut == nil {
			return nil
		}

		return s.publisher.Publish(ctx, events.SessionClosed{
			OwnerID:   userID,
			SessionID: session.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created sleep session",
		zap.Int64("userID", userID),
		zap.Int64("sessionID", session.ID),
		zap.Bool("closed", session.Closed()))

	return session, nil
}

// ClockOut closes the session and publishes the closed-session event in the
// same transaction. Only the owner may close a session, and a zero clockOut
// means "now".
func (s *Service) ClockOut(
	ctx context.Context, userID, sessionID int64, clockOut time.Time,
) (*types.SleepSession, error) {
	now := time.Now().UTC()
	if clockOut.IsZero() {
		clockOut = now
	}

	clockOut = clockOut.UTC()

	var session *types.SleepSession

	err := database.RunInSerializableTx(ctx, s.db, func(ctx context.Context, tx bun.Tx) error {
		var err error

		session, err = s.repo.Session().GetSessionForUpdate(ctx, tx, sessionID)
		if err != nil {
			if errors.Is(err, types.ErrSessionNotFound) {
				return errs.New(errs.KindNotFound, "Record not found")
			}

			return errs.WrapMsg(errs.KindTransient, "failed to lock sleep session", err)
		}

		if session.UserID != userID {
			return errs.New(errs.KindPermissionDenied, "session belongs to another user")
		}

		if err := validateClockOut(session, clockOut, now, s.skew); err != nil {
			return err
		}

		session.ClockOut = &clockOut
		if err := s.repo.Session().UpdateClockOut(ctx, tx, session); err != nil {
			return errs.WrapMsg(errs.KindTransient, "failed to update clock out", err)
		}

		return s.publisher.Publish(ctx, events.SessionClosed{
			OwnerID:   userID,
			SessionID: session.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Closed sleep session",
		zap.Int64("userID", userID),
		zap.Int64("sessionID", sessionID),
		zap.Int64("durationMinutes", session.DurationMinutes()))

	return session, nil
}
