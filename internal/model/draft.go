package model

import (
	"fmt"
	"time"
)

// DraftStatus 草稿状态
type DraftStatus string

const (
	DraftStatusPending  DraftStatus = "pending"
	DraftStatusApproved DraftStatus = "approved"
	DraftStatusRejected DraftStatus = "rejected"
	DraftStatusPosted   DraftStatus = "posted"
	DraftStatusFailed   DraftStatus = "failed"
)

// 单调状态迁移：pending→{approved,rejected}；approved→{posted,failed}
var draftTransitions = map[DraftStatus][]DraftStatus{
	DraftStatusPending:  {DraftStatusApproved, DraftStatusRejected},
	DraftStatusApproved: {DraftStatusPosted, DraftStatusFailed},
}

// ParseDraftStatus 校验外部传入的状态
func ParseDraftStatus(s string) (DraftStatus, error) {
	st := DraftStatus(s)
	switch st {
	case DraftStatusPending, DraftStatusApproved, DraftStatusRejected, DraftStatusPosted, DraftStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown draft status %q", s)
}

// CanTransitionTo 是否允许迁移到 next
func (s DraftStatus) CanTransitionTo(next DraftStatus) bool {
	for _, allowed := range draftTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal rejected/posted/failed 之后不再变化
func (s DraftStatus) Terminal() bool {
	return len(draftTransitions[s]) == 0
}

// ReplyDraft AI 生成的回复草稿，每条推文至多一条
type ReplyDraft struct {
	ID            uint        `json:"id" gorm:"primaryKey"`
	TweetID       string      `json:"tweet_id" gorm:"type:varchar(32);uniqueIndex:ux_draft_tweet;not null"`
	TweetURL      string      `json:"tweet_url" gorm:"type:varchar(512)"`
	AuthorHandle  string      `json:"author_handle" gorm:"type:varchar(64)"`
	Text          string      `json:"text" gorm:"type:text;not null"`
	Status        DraftStatus `json:"status" gorm:"type:varchar(16);index:idx_draft_status_posted;not null;default:pending"`
	FailureReason string      `json:"failure_reason,omitempty" gorm:"type:varchar(255)"`
	CreatedAt     time.Time   `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time   `json:"updated_at"`
	PostedAt      *time.Time  `json:"posted_at,omitempty" gorm:"index:idx_draft_status_posted"`
}

func (ReplyDraft) TableName() string { return "reply_drafts" }
