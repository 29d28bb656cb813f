package types_test

import (
	"testing"
	"time"

	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/stretchr/testify/assert"
)

func TestSleepSessionDurationMinutes(t *testing.T) {
	t.Parallel()

	clockIn := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

	t.Run("open session has no duration", func(t *testing.T) {
		t.Parallel()

		session := &types.SleepSession{ClockIn: clockIn}
		assert.False(t, session.Closed())
		assert.Equal(t, int64(0), session.DurationMinutes())
	})

	t.Run("closed session reports whole minutes", func(t *testing.T) {
		t.Parallel()

		clockOut := clockIn.Add(8*time.Hour + 30*time.Minute + 45*time.Second)
		session := &types.SleepSession{ClockIn: clockIn, ClockOut: &clockOut}
		assert.True(t, session.Closed())
		assert.Equal(t, int64(510), session.DurationMinutes())
	})
}
