package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/ghostreply/internal/model"
)

type CooldownRepository interface {
	// Touch upsert 作者最后回复时间
	Touch(ctx context.Context, handle string, at time.Time) error
	LastReplied(ctx context.Context, handle string) (time.Time, bool, error)
}

type cooldownRepository struct {
	db *gorm.DB
}

func NewCooldownRepository(db *gorm.DB) CooldownRepository { return &cooldownRepository{db: db} }

func (r *cooldownRepository) Touch(ctx context.Context, handle string, at time.Time) error {
	rec := &model.RepliedAccount{Handle: handle, LastReplied: at.UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "handle"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_replied"}),
	}).Create(rec).Error
}

func (r *cooldownRepository) LastReplied(ctx context.Context, handle string) (time.Time, bool, error) {
	var rec model.RepliedAccount
	err := r.db.WithContext(ctx).Where("handle = ?", handle).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.LastReplied, true, nil
}
