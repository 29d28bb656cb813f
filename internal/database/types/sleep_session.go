package types

import (
	"errors"
	"time"

	"github.com/uptrace/bun"
)

var ErrSessionNotFound = errors.New("sleep session not found")

// SleepSession is one sleep record. A nil ClockOut means the session is
// still open; a user has at most one open session at a time and no two of
// their sessions may overlap.
type SleepSession struct {
	bun.BaseModel `bun:"table:sleep_sessions,alias:s"`

	ID        int64      `bun:",pk,autoincrement"      json:"id"`
	UserID    int64      `bun:",notnull"               json:"userId"`
	ClockIn   time.Time  `bun:",notnull"               json:"clockIn"`
	ClockOut  *time.Time `bun:",nullzero"              json:"clockOut"`
	CreatedAt time.Time  `bun:",notnull,default:now()" json:"createdAt"`

	User *User `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
}

// Closed reports whether the session has a clock-out time.
func (s *SleepSession) Closed() bool {
	return s.ClockOut != nil
}

// DurationMinutes returns the session length in whole minutes,
// or 0 while the session is still open.
func (s *SleepSession) DurationMinutes() int64 {
	if s.ClockOut == nil {
		return 0
	}

	return int64(s.ClockOut.Sub(s.ClockIn).Minutes())
}
