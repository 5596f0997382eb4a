package settings

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Get returns the user's row, or an empty configuration when none exists yet.
func (r *Repo) Get(ctx context.Context, userID uint64) (ApiConfiguration, error) {
	var c ApiConfiguration
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&c)
	if res.Error != nil {
		return ApiConfiguration{}, res.Error
	}
	if res.RowsAffected == 0 {
		return ApiConfiguration{UserID: userID}, nil
	}
	return c, nil
}

// UpdateColumn writes a single column, creating the row on first write.
// Concurrent writes to different fields do not overwrite each other.
func (r *Repo) UpdateColumn(ctx context.Context, userID uint64, column, value string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&ApiConfiguration{UserID: userID}).Error; err != nil {
			return err
		}
		return tx.Model(&ApiConfiguration{}).
			Where("user_id = ?", userID).
			Update(column, value).Error
	})
}
