package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/ghostreply/internal/browser"
	"github.com/d60-Lab/ghostreply/internal/cooldown"
	"github.com/d60-Lab/ghostreply/internal/metrics"
	"github.com/d60-Lab/ghostreply/internal/model"
	"github.com/d60-Lab/ghostreply/internal/repository"
	"github.com/d60-Lab/ghostreply/pkg/alert"
	"github.com/d60-Lab/ghostreply/pkg/logger"
)

const maxFailureReason = 255

// defaultPostTimeout 单次发布（打开、输入、确认）的总时限
const defaultPostTimeout = 10 * time.Minute

// Stats 控制接口 /stats 的返回
type Stats struct {
	TotalTweets       int64 `json:"total_tweets"`
	TotalDrafts       int64 `json:"total_drafts"`
	Pending           int64 `json:"pending"`
	Approved          int64 `json:"approved"`
	Rejected          int64 `json:"rejected"`
	Posted            int64 `json:"posted"`
	Failed            int64 `json:"failed"`
	PostedLastHour    int64 `json:"posted_last_hour"`
	PostedLast24h     int64 `json:"posted_last_24h"`
	MaxRepliesPerHour int   `json:"max_replies_per_hour"`
}

// DraftService 草稿生命周期。Post 是唯一的发布入口（Poster），串行执行。
type DraftService interface {
	List(ctx context.Context, status model.DraftStatus, page, pageSize int) ([]*model.ReplyDraft, int64, error)
	Get(ctx context.Context, id uint) (*model.ReplyDraft, error)
	Approve(ctx context.Context, id uint) (*model.ReplyDraft, error)
	Reject(ctx context.Context, id uint) (*model.ReplyDraft, error)
	Post(ctx context.Context, id uint) (*model.ReplyDraft, error)
	// Queued 按创建顺序返回待发布的 approved 草稿
	Queued(ctx context.Context, limit int) ([]*model.ReplyDraft, error)
	PostedLastHour(ctx context.Context) (int64, error)
	// Requeue 删除失败草稿及其推文，下次发现时重新处理；ids 为空表示全部
	Requeue(ctx context.Context, ids []uint) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
}

type draftService struct {
	drafts            repository.DraftRepository
	tweets            repository.TweetRepository
	cooldown          cooldown.Tracker
	ctrl              browser.Controller
	metrics           *metrics.Metrics
	maxRepliesPerHour int
	postTimeout       time.Duration
	now               func() time.Time

	postMu sync.Mutex
}

func NewDraftService(
	drafts repository.DraftRepository,
	tweets repository.TweetRepository,
	tracker cooldown.Tracker,
	ctrl browser.Controller,
	m *metrics.Metrics,
	maxRepliesPerHour int,
) DraftService {
	return &draftService{
		drafts:            drafts,
		tweets:            tweets,
		cooldown:          tracker,
		ctrl:              ctrl,
		metrics:           m,
		maxRepliesPerHour: maxRepliesPerHour,
		postTimeout:       defaultPostTimeout,
		now:               time.Now,
	}
}

func (s *draftService) List(ctx context.Context, status model.DraftStatus, page, pageSize int) ([]*model.ReplyDraft, int64, error) {
	offset, limit := pagination(page, pageSize)
	items, err := s.drafts.List(ctx, repository.DraftFilter{Status: status, Offset: offset, Limit: limit})
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if status == "" {
		total, err = s.drafts.Count(ctx)
	} else {
		var counts map[model.DraftStatus]int64
		counts, err = s.drafts.CountByStatus(ctx)
		total = counts[status]
	}
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *draftService) Get(ctx context.Context, id uint) (*model.ReplyDraft, error) {
	d, err := s.drafts.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDraftNotFound
	}
	return d, err
}

func (s *draftService) Approve(ctx context.Context, id uint) (*model.ReplyDraft, error) {
	return s.transition(ctx, id, model.DraftStatusPending, model.DraftStatusApproved, nil)
}

func (s *draftService) Reject(ctx context.Context, id uint) (*model.ReplyDraft, error) {
	return s.transition(ctx, id, model.DraftStatusPending, model.DraftStatusRejected, nil)
}

// transition 先校验当前状态，再做条件更新；并发下被抢先则返回 ErrInvalidTransition
func (s *draftService) transition(ctx context.Context, id uint, from, to model.DraftStatus, fields map[string]any) (*model.ReplyDraft, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return nil, fmt.Errorf("%w: draft is already %s", ErrInvalidTransition, d.Status)
	}
	if d.Status != from || !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	if err := s.drafts.Transition(ctx, id, from, to, fields); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
		}
		return nil, err
	}
	s.metrics.Drafts.WithLabelValues(string(to)).Inc()
	return s.Get(ctx, id)
}

func (s *draftService) Queued(ctx context.Context, limit int) ([]*model.ReplyDraft, error) {
	return s.drafts.ListQueued(ctx, limit)
}

func (s *draftService) PostedLastHour(ctx context.Context) (int64, error) {
	return s.drafts.CountPostedSince(ctx, s.now().Add(-time.Hour))
}

func (s *draftService) Post(ctx context.Context, id uint) (*model.ReplyDraft, error) {
	s.postMu.Lock()
	defer s.postMu.Unlock()

	// 持锁后重新读取，保证同一草稿不会被发两次
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return nil, fmt.Errorf("%w: draft is already %s", ErrInvalidTransition, d.Status)
	}
	if !d.Status.CanTransitionTo(model.DraftStatusPosted) {
		return nil, fmt.Errorf("%w: cannot post a %s draft", ErrInvalidTransition, d.Status)
	}

	posted, err := s.PostedLastHour(ctx)
	if err != nil {
		return nil, err
	}
	if posted >= int64(s.maxRepliesPerHour) {
		s.metrics.Posts.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	log := logger.With(zap.Uint("draft_id", d.ID), zap.String("tweet_url", d.TweetURL))

	// 同一作者的多条草稿可能在冷却生效前都已入队
	active, err := s.cooldown.Active(ctx, d.AuthorHandle)
	if err != nil {
		return nil, fmt.Errorf("cooldown lookup: %w", err)
	}
	if active {
		s.metrics.Posts.WithLabelValues("cooldown").Inc()
		log.Info("author in cooldown, draft not posted", zap.String("handle", d.AuthorHandle))
		return s.markFailed(ctx, d, "author in cooldown", ErrAuthorCooldown)
	}

	// 浏览器操作不可撤销，脱离调用方的取消，只受自身超时约束
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.postTimeout)
	defer cancel()

	if err := s.ctrl.OpenSession(bctx); err != nil && !errors.Is(err, browser.ErrFeed) {
		return nil, fmt.Errorf("open session: %w", err)
	}

	if err := s.ctrl.PostReply(bctx, d.TweetURL, d.Text); err != nil {
		// 登录失效发生在输入之前，草稿保持 approved，重新登录后可再次发布
		if errors.Is(err, browser.ErrSessionExpired) {
			s.metrics.Posts.WithLabelValues("aborted").Inc()
			return nil, err
		}
		reason := err.Error()
		if errors.Is(err, browser.ErrUnconfirmed) {
			reason = "unconfirmed: " + reason
		}
		s.metrics.Posts.WithLabelValues("failed").Inc()
		alert.Capture(err, map[string]string{"component": "poster", "tweet_id": d.TweetID})
		log.Warn("post failed", zap.Error(err))
		return s.markFailed(bctx, d, reason, fmt.Errorf("%w: %w", ErrPostFailed, err))
	}

	now := s.now().UTC()
	if err := s.drafts.Transition(bctx, d.ID, model.DraftStatusApproved, model.DraftStatusPosted,
		map[string]any{"posted_at": now}); err != nil {
		// 已经发出去了，状态写失败只能记录
		log.Error("reply posted but status update failed", zap.Error(err))
		alert.Capture(err, map[string]string{"component": "poster", "tweet_id": d.TweetID})
		return nil, err
	}
	if err := s.cooldown.Touch(bctx, d.AuthorHandle, now); err != nil {
		log.Warn("update cooldown failed", zap.String("handle", d.AuthorHandle), zap.Error(err))
	}
	s.metrics.Posts.WithLabelValues("posted").Inc()
	s.metrics.Drafts.WithLabelValues(string(model.DraftStatusPosted)).Inc()
	log.Info("reply posted")
	return s.Get(bctx, d.ID)
}

// markFailed approved→failed，返回更新后的草稿和 cause
func (s *draftService) markFailed(ctx context.Context, d *model.ReplyDraft, reason string, cause error) (*model.ReplyDraft, error) {
	if err := s.drafts.Transition(ctx, d.ID, model.DraftStatusApproved, model.DraftStatusFailed,
		map[string]any{"failure_reason": truncate(reason, maxFailureReason)}); err != nil {
		logger.Error("mark draft failed", zap.Uint("draft_id", d.ID), zap.Error(err))
	}
	s.metrics.Drafts.WithLabelValues(string(model.DraftStatusFailed)).Inc()

	failed, err := s.Get(ctx, d.ID)
	if err != nil {
		failed = d
	}
	return failed, cause
}

func (s *draftService) Requeue(ctx context.Context, ids []uint) (int64, error) {
	n, err := s.drafts.DeleteFailed(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.Drafts.WithLabelValues("requeued").Add(float64(n))
	}
	return n, nil
}

func (s *draftService) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.drafts.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	tweets, err := s.tweets.Count(ctx)
	if err != nil {
		return nil, err
	}
	hour, err := s.PostedLastHour(ctx)
	if err != nil {
		return nil, err
	}
	day, err := s.drafts.CountPostedSince(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	st := &Stats{
		TotalTweets:       tweets,
		Pending:           counts[model.DraftStatusPending],
		Approved:          counts[model.DraftStatusApproved],
		Rejected:          counts[model.DraftStatusRejected],
		Posted:            counts[model.DraftStatusPosted],
		Failed:            counts[model.DraftStatusFailed],
		PostedLastHour:    hour,
		PostedLast24h:     day,
		MaxRepliesPerHour: s.maxRepliesPerHour,
	}
	for _, n := range counts {
		st.TotalDrafts += n
	}
	return st, nil
}

func pagination(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return (page - 1) * pageSize, pageSize
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
