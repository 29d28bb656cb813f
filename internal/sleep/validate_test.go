package sleep

import (
	"testing"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/sleepsocial/sleepsocial/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRange(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	skew := 15 * time.Second

	t.Run("accepts past clock in", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validateRange(now.Add(-8*time.Hour), nil, now, skew))
	})

	t.Run("accepts clock in within skew", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validateRange(now.Add(10*time.Second), nil, now, skew))
	})

	t.Run("rejects clock in beyond skew", func(t *testing.T) {
		t.Parallel()

		err := validateRange(now.Add(time.Minute), nil, now, skew)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})

	t.Run("accepts closed range", func(t *testing.T) {
		t.Parallel()

		out := now.Add(-time.Hour)
		assert.NoError(t, validateRange(now.Add(-9*time.Hour), &out, now, skew))
	})

	t.Run("rejects clock out before clock in", func(t *testing.T) {
		t.Parallel()

		out := now.Add(-10 * time.Hour)
		err := validateRange(now.Add(-9*time.Hour), &out, now, skew)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		assert.Contains(t, err.Error(), "clock_out must be greater than clock in")
	})

	t.Run("rejects clock out equal to clock in", func(t *testing.T) {
		t.Parallel()

		in := now.Add(-9 * time.Hour)
		err := validateRange(in, &in, now, skew)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})

	t.Run("rejects clock out beyond skew", func(t *testing.T) {
		t.Parallel()

		out := now.Add(time.Minute)
		err := validateRange(now.Add(-9*time.Hour), &out, now, skew)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		assert.Contains(t, err.Error(), "Clock out must be lower than now")
	})
}

func TestValidateExistingState(t *testing.T) {
	t.Parallel()

	t.Run("accepts clean state", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validateExistingState(false, false))
	})

	t.Run("rejects any new session while one is open", func(t *testing.T) {
		t.Parallel()

		err := validateExistingState(true, false)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		assert.Contains(t, err.Error(), "must clock out pending log first")
	})

	t.Run("rejects overlapping session", func(t *testing.T) {
		t.Parallel()

		err := validateExistingState(false, true)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		assert.Contains(t, err.Error(), "overlaps")
	})

	t.Run("open session wins over overlap", func(t *testing.T) {
		t.Parallel()

		err := validateExistingState(true, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must clock out pending log first")
	})
}

func TestValidateClockOut(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	skew := 15 * time.Second

	openSession := func() *types.SleepSession {
		return &types.SleepSession{
			ID:      1,
			UserID:  1,
			ClockIn: now.Add(-8 * time.Hour),
		}
	}

	t.Run("accepts valid clock out", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validateClockOut(openSession(), now, now, skew))
	})

	t.Run("rejects already closed session", func(t *testing.T) {
		t.Parallel()

		session := openSession()
		out := now.Add(-time.Hour)
		session.ClockOut = &out

		err := validateClockOut(session, now, now, skew)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		assert.Contains(t, err.Error(), "User already clocked out")
	})

	t.Run("rejects clock out beyond skew", func(t *testing.T) {
		t.Parallel()

		err := validateClockOut(openSession(), now.Add(time.Minute), now, skew)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		assert.Contains(t, err.Error(), "Clock out must be lower than now")
	})

	t.Run("rejects clock out before clock in", func(t *testing.T) {
		t.Parallel()

		err := validateClockOut(openSession(), now.Add(-9*time.Hour), now, skew)
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})
}
