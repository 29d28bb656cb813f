package migrations

import (
	"context"
	"fmt"

	"github.com/sleepsocial/sleepsocial/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.User)(nil),
			(*types.Follow)(nil),
			(*types.SleepSession)(nil),
		}

		for _, model := range models {
			_, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}

		_, err := db.NewRaw(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_follows_user_target
			ON follows (user_id, target_user_id);

			CREATE INDEX IF NOT EXISTS idx_follows_user_id
			ON follows (user_id, id);

			CREATE INDEX IF NOT EXISTS idx_follows_target_user_id
			ON follows (target_user_id, id);

			CREATE INDEX IF NOT EXISTS idx_sleep_sessions_user_id
			ON sleep_sessions (user_id, id);

			CREATE INDEX IF NOT EXISTS idx_sleep_sessions_user_open
			ON sleep_sessions (user_id)
			WHERE clock_out IS NULL;

			CREATE INDEX IF NOT EXISTS idx_sleep_sessions_clock_in
			ON sleep_sessions (user_id, clock_in);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP TABLE IF EXISTS sleep_sessions;
			DROP TABLE IF EXISTS follows;
			DROP TABLE IF EXISTS users;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}

		return nil
	})
}
