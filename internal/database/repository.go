package database

import (
	"github.com/sleepsocial/sleepsocial/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	user    *models.UserModel
	follow  *models.FollowModel
	session *models.SleepSessionModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		user:    models.NewUser(db, logger),
		follow:  models.NewFollow(db, logger),
		session: models.NewSleepSession(db, logger),
	}
}

// User returns the user model repository.
func (r *Repository) User() *models.UserModel {
	return r.user
}

// Follow returns the follow model repository.
func (r *Repository) Follow() *models.FollowModel {
	return r.follow
}

// Session returns the sleep session model repository.
func (r *Repository) Session() *models.SleepSessionModel {
	return r.session
}
