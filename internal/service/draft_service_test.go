package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/ghostreply/internal/browser"
	"github.com/d60-Lab/ghostreply/internal/model"
)

func seedDraft(t *testing.T, h *harness, id, handle string, status model.DraftStatus) *model.ReplyDraft {
	t.Helper()
	tw := &model.Tweet{
		ID:           id,
		URL:          "https://x.com/" + handle + "/status/" + id,
		AuthorHandle: handle,
		Text:         "AI labs are burning cash faster than ever",
		DiscoveredAt: time.Now().UTC(),
	}
	d := &model.ReplyDraft{TweetURL: tw.URL, AuthorHandle: handle, Text: "Margins compress first.", Status: status}
	require.NoError(t, h.tweets.CreateWithDraft(context.Background(), tw, d))
	return d
}

func TestDraftService_ApproveReject(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	a := seedDraft(t, h, "1", "alice", model.DraftStatusPending)
	b := seedDraft(t, h, "2", "bob", model.DraftStatusPending)

	got, err := h.drafts.Approve(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusApproved, got.Status)

	_, err = h.drafts.Approve(ctx, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = h.drafts.Reject(ctx, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err = h.drafts.Reject(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusRejected, got.Status)
	_, err = h.drafts.Approve(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.drafts.Approve(ctx, 9999)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDraftService_PostingRejectedDraftRefused(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	d := seedDraft(t, h, "1", "alice", model.DraftStatusRejected)

	_, err := h.drafts.Post(ctx, d.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, h.ctrl.postedURLs())

	p := seedDraft(t, h, "2", "bob", model.DraftStatusPending)
	_, err = h.drafts.Post(ctx, p.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, h.ctrl.postedURLs())
}

func TestDraftService_PostSuccess(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	d := seedDraft(t, h, "1", "alice", model.DraftStatusApproved)

	got, err := h.drafts.Post(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusPosted, got.Status)
	require.NotNil(t, got.PostedAt)
	assert.Equal(t, []string{d.TweetURL}, h.ctrl.postedURLs())

	active, err := h.tracker.Active(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, active)

	// 已发布的草稿不能再发
	_, err = h.drafts.Post(ctx, d.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorContains(t, err, "already posted")
	assert.Len(t, h.ctrl.postedURLs(), 1)

	_, err = h.drafts.Reject(ctx, d.ID)
	assert.ErrorContains(t, err, "already posted")
}

func TestDraftService_PostFailureMarksFailed(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.ctrl.postErr = browser.ErrPostRejected
	d := seedDraft(t, h, "1", "alice", model.DraftStatusApproved)

	got, err := h.drafts.Post(ctx, d.ID)
	require.ErrorIs(t, err, ErrPostFailed)
	require.ErrorIs(t, err, browser.ErrPostRejected)
	require.NotNil(t, got)
	assert.Equal(t, model.DraftStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "rejected")

	h.ctrl.postErr = nil
	_, err = h.drafts.Post(ctx, d.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "failed drafts are not retried")
}

func TestDraftService_SessionExpiredKeepsApproved(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.ctrl.postErr = browser.ErrSessionExpired
	d := seedDraft(t, h, "1", "alice", model.DraftStatusApproved)

	_, err := h.drafts.Post(ctx, d.ID)
	require.ErrorIs(t, err, browser.ErrSessionExpired)

	got, err := h.drafts.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusApproved, got.Status)
}

func TestDraftService_CallerCancelDoesNotAbortPost(t *testing.T) {
	h := newHarness(t, testConfig())
	d := seedDraft(t, h, "1", "alice", model.DraftStatusApproved)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 调用方在回复提交后断开
	h.ctrl.afterSubmit = func(postCtx context.Context) error {
		cancel()
		return postCtx.Err()
	}

	got, err := h.drafts.Post(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusPosted, got.Status)

	h.ctrl.afterSubmit = nil
	_, err = h.drafts.Post(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, h.ctrl.postedURLs(), 1)
}

func TestDraftService_UnconfirmedPostMarkedFailed(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	d := seedDraft(t, h, "1", "alice", model.DraftStatusApproved)
	h.ctrl.afterSubmit = func(context.Context) error {
		return fmt.Errorf("%w: %w", browser.ErrUnconfirmed, context.DeadlineExceeded)
	}

	got, err := h.drafts.Post(ctx, d.ID)
	require.ErrorIs(t, err, ErrPostFailed)
	require.ErrorIs(t, err, browser.ErrUnconfirmed)
	require.NotNil(t, got)
	assert.Equal(t, model.DraftStatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.FailureReason, "unconfirmed"), got.FailureReason)

	// 可能已发出的回复不会再发一次
	h.ctrl.afterSubmit = nil
	_, err = h.drafts.Post(ctx, d.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, h.ctrl.postedURLs(), 1)
}

func TestDraftService_PostRechecksAuthorCooldown(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	first := seedDraft(t, h, "1", "alice", model.DraftStatusApproved)
	second := seedDraft(t, h, "2", "alice", model.DraftStatusApproved)

	_, err := h.drafts.Post(ctx, first.ID)
	require.NoError(t, err)

	got, err := h.drafts.Post(ctx, second.ID)
	require.ErrorIs(t, err, ErrAuthorCooldown)
	require.NotNil(t, got)
	assert.Equal(t, model.DraftStatusFailed, got.Status)
	assert.Equal(t, "author in cooldown", got.FailureReason)
	assert.Equal(t, []string{first.TweetURL}, h.ctrl.postedURLs())
}

func TestDraftService_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.MaxRepliesPerHour = 1
	h := newHarness(t, cfg)
	ctx := context.Background()
	a := seedDraft(t, h, "1", "alice", model.DraftStatusApproved)
	b := seedDraft(t, h, "2", "bob", model.DraftStatusApproved)

	_, err := h.drafts.Post(ctx, a.ID)
	require.NoError(t, err)
	_, err = h.drafts.Post(ctx, b.ID)
	require.ErrorIs(t, err, ErrRateLimited)

	got, err := h.drafts.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusApproved, got.Status)
}

func TestDraftService_ListAndStats(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	seedDraft(t, h, "1", "alice", model.DraftStatusPending)
	seedDraft(t, h, "2", "bob", model.DraftStatusPending)
	approved := seedDraft(t, h, "3", "carol", model.DraftStatusApproved)
	_, err := h.drafts.Post(ctx, approved.ID)
	require.NoError(t, err)

	items, total, err := h.drafts.List(ctx, model.DraftStatusPending, 1, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int64(2), total)

	items, total, err = h.drafts.List(ctx, "", 1, 20)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, int64(3), total)

	st, err := h.drafts.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalTweets)
	assert.Equal(t, int64(3), st.TotalDrafts)
	assert.Equal(t, int64(2), st.Pending)
	assert.Equal(t, int64(1), st.Posted)
	assert.Equal(t, int64(1), st.PostedLastHour)
	assert.Equal(t, int64(1), st.PostedLast24h)
	assert.Equal(t, 15, st.MaxRepliesPerHour)
}

func TestDraftService_RequeueFailed(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.ctrl.postErr = browser.ErrPostRejected
	d := seedDraft(t, h, "1", "alice", model.DraftStatusApproved)
	_, err := h.drafts.Post(ctx, d.ID)
	require.ErrorIs(t, err, ErrPostFailed)

	n, err := h.drafts.Requeue(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = h.drafts.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)

	// 推文记录一并删除，下一次发现会重新生成草稿
	h.ctrl.postErr = nil
	h.feed(fetchResult{items: []browser.FeedItem{
		item("1", "alice", "AI labs are burning cash faster than ever", 120, 3),
	}})
	res, err := h.mon.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Drafted)
}

func TestTweetService(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	seedDraft(t, h, "1", "alice", model.DraftStatusPending)
	svc := NewTweetService(h.tweets)

	items, total, err := svc.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int64(1), total)

	_, err = svc.Get(ctx, "404")
	assert.ErrorIs(t, err, ErrTweetNotFound)
}
