package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/d60-Lab/ghostreply/config"
	"github.com/d60-Lab/ghostreply/internal/ai"
	"github.com/d60-Lab/ghostreply/internal/browser"
	"github.com/d60-Lab/ghostreply/internal/cooldown"
	"github.com/d60-Lab/ghostreply/internal/metrics"
	"github.com/d60-Lab/ghostreply/internal/repository"
	"github.com/d60-Lab/ghostreply/internal/testutil"
)

type fetchResult struct {
	items []browser.FeedItem
	err   error
}

// fakeController 按脚本返回时间线，记录发布
type fakeController struct {
	mu        sync.Mutex
	script    []fetchResult
	fetches   int
	openErr   error
	opens     int
	postErr   error
	posted    []string
	recovered int
	// afterSubmit 非空时在记录发布之后调用，用于模拟提交后的中断
	afterSubmit func(ctx context.Context) error
	gate      chan struct{} // 非空时 FetchFeedItems 阻塞直到关闭
	entered   chan struct{}
}

func (f *fakeController) OpenSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeController) FetchFeedItems(ctx context.Context, n int) ([]browser.FeedItem, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		return nil, nil
	}
	i := f.fetches
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.fetches++
	r := f.script[i]
	if len(r.items) > n {
		return r.items[:n], r.err
	}
	return r.items, r.err
}

func (f *fakeController) PostReply(ctx context.Context, tweetURL, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, tweetURL)
	if f.afterSubmit != nil {
		return f.afterSubmit(ctx)
	}
	return nil
}

func (f *fakeController) RecoverFromError(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered++
	return nil
}

func (f *fakeController) Close() error { return nil }

func (f *fakeController) postedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted...)
}

var cannedReplies = []string{
	"Liquidity leaves before the headlines do.",
	"Margins compress long before revenue shows it.",
	"Most funds still underweight semis here.",
	"Retail arrives right when insiders exit.",
	"Cheap inference changes which startups survive.",
	"Regulators tend to move after volatility spikes.",
	"Miners sell into every rally lately.",
	"Open weights erode pricing power quickly.",
	"Stablecoin volume tells the real story.",
	"Hardware cycles outlast software narratives.",
	"Funding rounds now price in slower growth.",
	"Developers follow tooling, not hype.",
}

// fakeGenerator 依次返回预置回复；failFor 中的推文文本返回 ErrGeneration
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	queue   []string
	failFor map[string]bool
}

func (g *fakeGenerator) GenerateReply(_ context.Context, tweetText, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failFor[tweetText] {
		return "", fmt.Errorf("%w: upstream 503", ai.ErrGeneration)
	}
	if len(g.queue) > 0 {
		next := g.queue[0]
		g.queue = g.queue[1:]
		return next, nil
	}
	return cannedReplies[(g.calls-1)%len(cannedReplies)], nil
}

func testConfig() *config.Config {
	return &config.Config{
		AI: config.AIConfig{MaxAttempts: 2},
		Filter: config.FilterConfig{
			MinLikes:    50,
			MinRetweets: 10,
			Keywords:    []string{"AI", "crypto", "bitcoin"},
			Ignore:      []string{"giveaway", "airdrop"},
		},
		Monitor: config.MonitorConfig{
			Interval:          time.Hour,
			FeedSize:          15,
			MaxRepliesPerHour: 15,
			Cooldown:          24 * time.Hour,
			HistorySize:       30,
		},
	}
}

type harness struct {
	cfg       *config.Config
	ctrl      *fakeController
	gen       *fakeGenerator
	tweets    repository.TweetRepository
	draftRepo repository.DraftRepository
	drafts    DraftService
	tracker   cooldown.Tracker
	metrics   *metrics.Metrics
	mon       *Monitor
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	h := &harness{
		cfg:       cfg,
		ctrl:      &fakeController{},
		gen:       &fakeGenerator{},
		tweets:    repository.NewTweetRepository(db),
		draftRepo: repository.NewDraftRepository(db),
		metrics:   metrics.New("test"),
	}
	h.tracker = cooldown.NewDBTracker(repository.NewCooldownRepository(db), cfg.Monitor.Cooldown)
	h.drafts = NewDraftService(h.draftRepo, h.tweets, h.tracker, h.ctrl, h.metrics, cfg.Monitor.MaxRepliesPerHour)
	h.mon = NewMonitor(cfg, MonitorDeps{
		Controller: h.ctrl,
		Generator:  h.gen,
		Tweets:     h.tweets,
		Drafts:     h.drafts,
		Cooldown:   h.tracker,
		Metrics:    h.metrics,
	})
	h.mon.fetchBackoff = time.Millisecond
	return h
}

func (h *harness) feed(results ...fetchResult) {
	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	h.ctrl.script = results
	h.ctrl.fetches = 0
}

func item(id, handle, text string, likes, retweets int) browser.FeedItem {
	return browser.FeedItem{
		ID:       id,
		URL:      "https://x.com/" + handle + "/status/" + id,
		Text:     text,
		Author:   handle,
		Handle:   handle,
		Likes:    likes,
		Retweets: retweets,
	}
}

// tenTweetFeed 10 条推文，其中 3 条同时满足关键词与互动阈值
func tenTweetFeed() []browser.FeedItem {
	return []browser.FeedItem{
		item("1", "alice", "AI labs are burning cash faster than ever", 120, 3),
		item("2", "bob", "bitcoin dominance keeps creeping up this month", 5, 40),
		item("3", "carol", "Nobody prices crypto regulation risk correctly", 900, 200),
		item("4", "dan", "AI agents demo well and ship badly", 3, 1),
		item("5", "erin", "crypto twitter is quiet today for some reason", 10, 2),
		item("6", "frank", "bitcoin miners are capitulating again", 49, 9),
		item("7", "gina", "my cat learned to open the fridge door", 5000, 900),
		item("8", "hank", "the weather here has been wild all week", 300, 80),
		item("9", "ivy", "crypto giveaway for the first hundred replies", 800, 300),
		item("10", "jack", "AI airdrop claim is live now, hurry up", 700, 100),
	}
}
