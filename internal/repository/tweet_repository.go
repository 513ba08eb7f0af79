package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/ghostreply/internal/model"
)

type TweetRepository interface {
	// CreateWithDraft 同一事务内落地推文与草稿
	CreateWithDraft(ctx context.Context, tweet *model.Tweet, draft *model.ReplyDraft) error
	Get(ctx context.Context, id string) (*model.Tweet, error)
	// ExistingIDs 返回 ids 中已入库的集合
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	List(ctx context.Context, offset, limit int) ([]*model.Tweet, error)
	Count(ctx context.Context) (int64, error)
}

type tweetRepository struct {
	db *gorm.DB
}

func NewTweetRepository(db *gorm.DB) TweetRepository { return &tweetRepository{db: db} }

func (r *tweetRepository) CreateWithDraft(ctx context.Context, tweet *model.Tweet, draft *model.ReplyDraft) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(tweet)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicate
		}
		draft.TweetID = tweet.ID
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(draft)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicate
		}
		return nil
	})
}

func (r *tweetRepository) Get(ctx context.Context, id string) (*model.Tweet, error) {
	var t model.Tweet
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tweetRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	res := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	var found []string
	if err := r.db.WithContext(ctx).
		Model(&model.Tweet{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		res[id] = true
	}
	return res, nil
}

func (r *tweetRepository) List(ctx context.Context, offset, limit int) ([]*model.Tweet, error) {
	var res []*model.Tweet
	err := r.db.WithContext(ctx).
		Order("discovered_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *tweetRepository) Count(ctx context.Context) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Tweet{}).Count(&cnt).Error
	return cnt, err
}
