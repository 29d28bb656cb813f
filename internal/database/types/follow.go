package types

import (
	"time"

	"github.com/uptrace/bun"
)

// Follow is a directed edge in the social graph. The (user_id,
// target_user_id) pair is unique and a user can never follow themselves.
type Follow struct {
	bun.BaseModel `bun:"table:follows,alias:f"`

	ID           int64     `bun:",pk,autoincrement"      json:"id"`
	UserID       int64     `bun:",notnull"               json:"userId"`
	TargetUserID int64     `bun:",notnull"               json:"targetUserId"`
	CreatedAt    time.Time `bun:",notnull,default:now()" json:"createdAt"`
}
