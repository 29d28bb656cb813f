package feed

import "github.com/sleepsocial/sleepsocial/internal/database/types"

// Scorer ranks a closed session inside a feed. The fan-out and backfill
// paths must use the same scorer for a given feed or re-inserts stop being
// idempotent.
type Scorer func(session *types.SleepSession) float64

// DurationScore ranks sessions by minutes slept, longest first.
// This is the leaderboard ordering.
func DurationScore(session *types.SleepSession) float64 {
	return float64(session.DurationMinutes())
}

// RecencyScore ranks sessions by clock-in time, newest first.
// This is the timeline ordering.
func RecencyScore(session *types.SleepSession) float64 {
	return float64(session.ClockIn.UTC().Unix())
}
