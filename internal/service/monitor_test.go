package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/ghostreply/internal/browser"
	"github.com/d60-Lab/ghostreply/internal/model"
	"github.com/d60-Lab/ghostreply/internal/repository"
)

func draftTweetIDs(t *testing.T, h *harness) []string {
	t.Helper()
	ds, err := h.draftRepo.List(context.Background(), repository.DraftFilter{Limit: 100})
	require.NoError(t, err)
	ids := make([]string, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.TweetID)
	}
	return ids
}

func TestRunCycle_TenTweetsThreeQualify(t *testing.T) {
	h := newHarness(t, testConfig())
	h.feed(fetchResult{items: tenTweetFeed()})

	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Fetched)
	assert.Equal(t, 10, res.New)
	assert.Equal(t, 3, res.Drafted)
	assert.Equal(t, 0, res.Posted)

	assert.ElementsMatch(t, []string{"1", "2", "3"}, draftTweetIDs(t, h))
	pending, err := h.draftRepo.List(context.Background(), repository.DraftFilter{Status: model.DraftStatusPending, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	assert.Empty(t, h.ctrl.postedURLs())
}

func TestRunCycle_NeverStoresDuplicateTweets(t *testing.T) {
	h := newHarness(t, testConfig())
	feed := tenTweetFeed()
	feed = append(feed, feed[0], feed[2])
	h.feed(fetchResult{items: feed})

	_, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)

	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	// 被过滤的 7 条不入库，每个周期都算新推文；已入库的 3 条不再出现
	assert.Equal(t, 12, res.Fetched)
	assert.Equal(t, 7, res.New)
	assert.Equal(t, 0, res.Drafted)

	n, err := h.tweets.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRunCycle_AuthorInCooldownSkipped(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	require.NoError(t, h.tracker.Touch(ctx, "alice", time.Now().Add(-2*time.Hour)))

	h.feed(fetchResult{items: []browser.FeedItem{
		item("1", "alice", "AI labs are burning cash faster than ever", 120, 3),
		item("3", "carol", "Nobody prices crypto regulation risk correctly", 900, 200),
	}})

	res, err := h.mon.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Drafted)
	assert.Equal(t, []string{"3"}, draftTweetIDs(t, h))

	// 冷却中的推文不入库，窗口过后还能被处理
	_, err = h.tweets.Get(ctx, "1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRunCycle_FeedErrorThenRetrySameSet(t *testing.T) {
	clean := newHarness(t, testConfig())
	clean.feed(fetchResult{items: tenTweetFeed()})
	_, err := clean.mon.RunCycle(context.Background())
	require.NoError(t, err)

	h := newHarness(t, testConfig())
	h.feed(
		fetchResult{err: browser.ErrFeed},
		fetchResult{items: tenTweetFeed()},
	)
	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Fetched)
	assert.ElementsMatch(t, draftTweetIDs(t, clean), draftTweetIDs(t, h))
	assert.Equal(t, 0, h.ctrl.recovered, "the controller already clicked Retry for a feed error")
}

func TestRunCycle_ElementNotFoundRecoversBeforeRetry(t *testing.T) {
	h := newHarness(t, testConfig())
	h.feed(
		fetchResult{err: browser.ErrElementNotFound},
		fetchResult{items: tenTweetFeed()},
	)
	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Drafted)
	assert.Equal(t, 1, h.ctrl.recovered)
}

func TestRunCycle_RetriesExhausted(t *testing.T) {
	h := newHarness(t, testConfig())
	h.feed(fetchResult{err: browser.ErrFeed})

	_, err := h.mon.RunCycle(context.Background())
	require.ErrorIs(t, err, browser.ErrFeed)
	assert.Equal(t, 3, h.ctrl.fetches)

	st, err := h.mon.Status(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, st.LastError)
}

func TestRunCycle_SessionExpiredAbortsWithoutRetry(t *testing.T) {
	h := newHarness(t, testConfig())
	h.feed(fetchResult{err: browser.ErrSessionExpired})

	_, err := h.mon.RunCycle(context.Background())
	require.ErrorIs(t, err, browser.ErrSessionExpired)
	assert.Equal(t, 1, h.ctrl.fetches)

	st, err := h.mon.Status(context.Background())
	require.NoError(t, err)
	assert.Contains(t, st.LastError, "session expired")
}

func TestRunCycle_GenerationFailureLeavesTweetForLater(t *testing.T) {
	h := newHarness(t, testConfig())
	feed := tenTweetFeed()
	h.gen.failFor = map[string]bool{feed[0].Text: true}
	h.feed(fetchResult{items: feed})

	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Drafted)
	_, err = h.tweets.Get(context.Background(), "1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	h.gen.mu.Lock()
	h.gen.failFor = nil
	h.gen.mu.Unlock()
	// 被过滤的 7 条同样没有入库
	res, err = h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, res.New)
	assert.Equal(t, 1, res.Drafted)
	_, err = h.tweets.Get(context.Background(), "1")
	assert.NoError(t, err)
}

func TestRunCycle_InvalidReplyIsRegenerated(t *testing.T) {
	h := newHarness(t, testConfig())
	h.gen.queue = []string{"Is anyone else seeing this?", "Funding rounds now price in slower growth."}
	h.feed(fetchResult{items: []browser.FeedItem{
		item("1", "alice", "AI labs are burning cash faster than ever", 120, 3),
	}})

	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Drafted)

	ds, err := h.draftRepo.List(context.Background(), repository.DraftFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "Funding rounds now price in slower growth.", ds[0].Text)
}

func TestRunCycle_AllAttemptsInvalidSkipsTweet(t *testing.T) {
	h := newHarness(t, testConfig())
	h.gen.queue = []string{"#AI is wild", "Great point, love this"}
	h.feed(fetchResult{items: []browser.FeedItem{
		item("1", "alice", "AI labs are burning cash faster than ever", 120, 3),
	}})

	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Drafted)
	assert.Equal(t, 2, h.gen.calls)
}

func TestRunCycle_SimilarToRecentReplyRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	h.gen.queue = []string{
		"Liquidity leaves before the headlines do.",
		"Liquidity leaves before the headlines do!",
		"Margins compress long before revenue shows it.",
	}
	h.feed(fetchResult{items: []browser.FeedItem{
		item("1", "alice", "AI labs are burning cash faster than ever", 120, 3),
		item("3", "carol", "Nobody prices crypto regulation risk correctly", 900, 200),
	}})

	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Drafted)
	assert.Equal(t, 3, h.gen.calls)
}

func TestRunCycle_AutoPostHonoursHourlyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.AutoPost = true
	cfg.Monitor.MaxRepliesPerHour = 2
	h := newHarness(t, cfg)
	h.feed(fetchResult{items: tenTweetFeed()})

	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Drafted)
	assert.Equal(t, 2, res.Posted)
	assert.Len(t, h.ctrl.postedURLs(), 2)

	queued, err := h.drafts.Queued(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	// 窗口内不再发布
	res, err = h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Posted)
	assert.Len(t, h.ctrl.postedURLs(), 2)

	// 一小时后窗口滚动，排队的草稿被发出
	h.drafts.(*draftService).now = func() time.Time { return time.Now().Add(61 * time.Minute) }
	res, err = h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Posted)
	assert.Len(t, h.ctrl.postedURLs(), 3)

	d, err := h.drafts.Get(context.Background(), queued[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusPosted, d.Status)
	assert.NotNil(t, d.PostedAt)
}

func TestRunCycle_AutoPostTouchesCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.AutoPost = true
	h := newHarness(t, cfg)
	h.feed(fetchResult{items: []browser.FeedItem{
		item("1", "Alice", "AI labs are burning cash faster than ever", 120, 3),
	}})

	_, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)

	active, err := h.tracker.Active(context.Background(), "@alice")
	require.NoError(t, err)
	assert.True(t, active)

	// 同一作者的新推文在冷却期内被跳过
	h.feed(fetchResult{items: []browser.FeedItem{
		item("11", "alice", "crypto funds rotate into AI names again", 500, 30),
	}})
	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Drafted)
}

func TestRunCycle_QueuedDraftsRespectAuthorCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.AutoPost = true
	cfg.Monitor.MaxRepliesPerHour = 1
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.feed(fetchResult{items: []browser.FeedItem{
		item("3", "carol", "Nobody prices crypto regulation risk correctly", 900, 200),
	}})
	res, err := h.mon.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Posted)

	// 限额已满，同一作者的两条推文都进入队列
	h.feed(fetchResult{items: []browser.FeedItem{
		item("11", "alice", "AI labs are burning cash faster than ever", 120, 3),
		item("12", "alice", "crypto funds rotate into AI names again", 500, 30),
	}})
	res, err = h.mon.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Drafted)
	assert.Equal(t, 0, res.Posted)

	// 窗口滚动并放宽限额后，只发出 alice 的第一条
	h.mon.cfg.MaxRepliesPerHour = 5
	h.drafts.(*draftService).maxRepliesPerHour = 5
	h.drafts.(*draftService).now = func() time.Time { return time.Now().Add(61 * time.Minute) }
	res, err = h.mon.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Posted)
	assert.Equal(t, []string{
		"https://x.com/carol/status/3",
		"https://x.com/alice/status/11",
	}, h.ctrl.postedURLs())

	failed, _, err := h.drafts.List(ctx, model.DraftStatusFailed, 1, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "12", failed[0].TweetID)
	assert.Equal(t, "author in cooldown", failed[0].FailureReason)
}

func TestRunCycle_SessionBreak(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.AutoPost = true
	cfg.Monitor.SessionMin = 1
	cfg.Monitor.SessionMax = 1
	cfg.Monitor.BreakMin = 10 * time.Minute
	cfg.Monitor.BreakMax = 10 * time.Minute
	h := newHarness(t, cfg)
	h.feed(fetchResult{items: tenTweetFeed()})

	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Drafted)
	assert.Equal(t, 1, res.Posted)

	res, err = h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session break", res.Skipped)

	st, err := h.mon.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st.BreakUntil)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *st.BreakUntil, time.Minute)
}

func TestRunCycle_SleepWindowSkips(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.SleepStart = 2
	cfg.Monitor.SleepEnd = 7
	h := newHarness(t, cfg)
	h.mon.now = func() time.Time { return time.Date(2024, 5, 1, 3, 0, 0, 0, time.Local) }
	h.feed(fetchResult{items: tenTweetFeed()})

	res, err := h.mon.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sleep window", res.Skipped)
	assert.Equal(t, 0, h.ctrl.fetches)
}

func TestInSleepWindow(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 5, 1, h, 30, 0, 0, time.Local) }

	day := testConfig().Monitor
	day.SleepStart, day.SleepEnd = 2, 7
	assert.True(t, inSleepWindow(day, at(2)))
	assert.True(t, inSleepWindow(day, at(6)))
	assert.False(t, inSleepWindow(day, at(7)))
	assert.False(t, inSleepWindow(day, at(1)))

	night := testConfig().Monitor
	night.SleepStart, night.SleepEnd = 23, 6
	assert.True(t, inSleepWindow(night, at(23)))
	assert.True(t, inSleepWindow(night, at(0)))
	assert.False(t, inSleepWindow(night, at(12)))

	off := testConfig().Monitor
	off.SleepStart, off.SleepEnd = 4, 4
	assert.False(t, inSleepWindow(off, at(4)))
}

func TestMonitor_StartStop(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	require.ErrorIs(t, h.mon.Stop(ctx), ErrNotRunning)

	autoPost := true
	require.NoError(t, h.mon.Start(ctx, StartOptions{AutoPost: &autoPost}))
	assert.True(t, h.mon.Running())
	require.ErrorIs(t, h.mon.Start(ctx, StartOptions{}), ErrAlreadyRunning)

	st, err := h.mon.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.True(t, st.AutoPost)

	require.NoError(t, h.mon.Stop(ctx))
	assert.False(t, h.mon.Running())
	require.ErrorIs(t, h.mon.Stop(ctx), ErrNotRunning)

	st, err = h.mon.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.GreaterOrEqual(t, st.Cycles, int64(1))
}

func TestMonitor_StartWithExpiredSessionStaysIdle(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ctrl.openErr = browser.ErrSessionExpired

	err := h.mon.Start(context.Background(), StartOptions{})
	require.ErrorIs(t, err, browser.ErrSessionExpired)
	assert.False(t, h.mon.Running())
}

func TestMonitor_StopWaitsForInFlightCycle(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ctrl.gate = make(chan struct{})
	h.ctrl.entered = make(chan struct{}, 1)
	h.feed(fetchResult{items: tenTweetFeed()})

	require.NoError(t, h.mon.Start(context.Background(), StartOptions{}))
	select {
	case <-h.ctrl.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not start")
	}

	// ctx 先到期：返回 ctx 错误，状态已经是 idle
	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.mon.Stop(short)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, h.mon.Running())

	// 周期结束前不能重新启动
	startCtx, cancelStart := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelStart()
	require.ErrorIs(t, h.mon.Start(startCtx, StartOptions{}), context.DeadlineExceeded)

	close(h.ctrl.gate)
	require.Eventually(t, func() bool {
		n, err := h.tweets.Count(context.Background())
		return err == nil && n == 3
	}, 5*time.Second, 20*time.Millisecond, "in-flight cycle runs to completion")

	h.mon.mu.Lock()
	done := h.mon.done
	h.mon.mu.Unlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit")
	}
}
