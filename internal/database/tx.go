package database

import (
	"context"
	"database/sql"

	"github.com/sleepsocial/sleepsocial/internal/database/dbretry"
	"github.com/uptrace/bun"
)

// RunInSerializableTx runs fn inside a SERIALIZABLE transaction. Used for
// multi-row mutations (edge + counters, existence check + insert) where
// read-committed would allow lost updates under concurrent requests.
// Serialization failures roll back and rerun the whole closure, so fn must
// be safe to execute more than once.
func RunInSerializableTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context, tx bun.Tx) error) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		return db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
	})
}
