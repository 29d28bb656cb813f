package types

import (
	"errors"
	"time"

	"github.com/uptrace/bun"
)

var ErrUserNotFound = errors.New("user not found")

// User represents an account that can follow others and log sleep sessions.
// NumFollowing and NumFollowers are cached aggregates of the follows table
// and are only mutated inside the same transaction as the edge itself.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID             int64      `bun:",pk,autoincrement"      json:"id"`
	Name           string     `bun:",notnull"               json:"name"`
	NumFollowing   int64      `bun:",notnull,default:0"     json:"numFollowing"`
	NumFollowers   int64      `bun:",notnull,default:0"     json:"numFollowers"`
	LastBackfillAt *time.Time `bun:",nullzero"              json:"lastBackfillAt"`
	CreatedAt      time.Time  `bun:",notnull,default:now()" json:"createdAt"`
}
