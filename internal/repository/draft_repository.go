package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/ghostreply/internal/model"
)

// DraftFilter 列表查询条件，Status 为空表示全部
type DraftFilter struct {
	Status model.DraftStatus
	Offset int
	Limit  int
}

type DraftRepository interface {
	Get(ctx context.Context, id uint) (*model.ReplyDraft, error)
	List(ctx context.Context, f DraftFilter) ([]*model.ReplyDraft, error)
	// ListQueued 按创建时间升序返回待发布（approved）草稿
	ListQueued(ctx context.Context, limit int) ([]*model.ReplyDraft, error)
	// Transition 条件更新 from→to，未命中返回 ErrStaleStatus
	Transition(ctx context.Context, id uint, from, to model.DraftStatus, fields map[string]any) error
	CountPostedSince(ctx context.Context, since time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[model.DraftStatus]int64, error)
	Count(ctx context.Context) (int64, error)
	// DeleteFailed 删除失败草稿及其推文；ids 为空时删除全部失败草稿
	DeleteFailed(ctx context.Context, ids []uint) (int64, error)
}

type draftRepository struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) DraftRepository { return &draftRepository{db: db} }

func (r *draftRepository) Get(ctx context.Context, id uint) (*model.ReplyDraft, error) {
	var d model.ReplyDraft
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *draftRepository) List(ctx context.Context, f DraftFilter) ([]*model.ReplyDraft, error) {
	q := r.db.WithContext(ctx).Model(&model.ReplyDraft{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var res []*model.ReplyDraft
	err := q.Order("created_at DESC").Order("id DESC").Offset(f.Offset).Limit(f.Limit).Find(&res).Error
	return res, err
}

func (r *draftRepository) ListQueued(ctx context.Context, limit int) ([]*model.ReplyDraft, error) {
	var res []*model.ReplyDraft
	err := r.db.WithContext(ctx).
		Where("status = ?", model.DraftStatusApproved).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *draftRepository) Transition(ctx context.Context, id uint, from, to model.DraftStatus, fields map[string]any) error {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&model.ReplyDraft{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *draftRepository) CountPostedSince(ctx context.Context, since time.Time) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&model.ReplyDraft{}).
		Where("status = ? AND posted_at >= ?", model.DraftStatusPosted, since.UTC()).
		Count(&cnt).Error
	return cnt, err
}

func (r *draftRepository) CountByStatus(ctx context.Context) (map[model.DraftStatus]int64, error) {
	type row struct {
		Status model.DraftStatus
		Cnt    int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&model.ReplyDraft{}).
		Select("status, COUNT(*) AS cnt").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make(map[model.DraftStatus]int64, len(rows))
	for _, rw := range rows {
		res[rw.Status] = rw.Cnt
	}
	return res, nil
}

func (r *draftRepository) Count(ctx context.Context) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.ReplyDraft{}).Count(&cnt).Error
	return cnt, err
}

func (r *draftRepository) DeleteFailed(ctx context.Context, ids []uint) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.ReplyDraft{}).Where("status = ?", model.DraftStatusFailed)
		if len(ids) > 0 {
			q = q.Where("id IN ?", ids)
		}
		var drafts []model.ReplyDraft
		if err := q.Find(&drafts).Error; err != nil {
			return err
		}
		if len(drafts) == 0 {
			return nil
		}
		draftIDs := make([]uint, len(drafts))
		tweetIDs := make([]string, len(drafts))
		for i, d := range drafts {
			draftIDs[i] = d.ID
			tweetIDs[i] = d.TweetID
		}
		res := tx.Where("id IN ? AND status = ?", draftIDs, model.DraftStatusFailed).Delete(&model.ReplyDraft{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return tx.Where("id IN ?", tweetIDs).Delete(&model.Tweet{}).Error
	})
	return deleted, err
}
