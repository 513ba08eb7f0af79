package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/ghostreply/config"
	"github.com/d60-Lab/ghostreply/internal/ai"
	"github.com/d60-Lab/ghostreply/internal/browser"
	"github.com/d60-Lab/ghostreply/internal/cooldown"
	"github.com/d60-Lab/ghostreply/internal/metrics"
	"github.com/d60-Lab/ghostreply/internal/model"
	"github.com/d60-Lab/ghostreply/internal/repository"
	"github.com/d60-Lab/ghostreply/pkg/alert"
	"github.com/d60-Lab/ghostreply/pkg/logger"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// StartOptions AutoPost 为 nil 时沿用配置
type StartOptions struct {
	AutoPost *bool
}

// Status 监控循环快照
type Status struct {
	State             State      `json:"state"`
	AutoPost          bool       `json:"auto_post"`
	Cycles            int64      `json:"cycles"`
	LastCycleStart    *time.Time `json:"last_cycle_start,omitempty"`
	LastCycleEnd      *time.Time `json:"last_cycle_end,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	NextCycle         *time.Time `json:"next_cycle,omitempty"`
	BreakUntil        *time.Time `json:"break_until,omitempty"`
	PostedLastHour    int64      `json:"posted_last_hour"`
	MaxRepliesPerHour int        `json:"max_replies_per_hour"`
}

// CycleResult 单个周期的统计
type CycleResult struct {
	CycleID string `json:"cycle_id"`
	Skipped string `json:"skipped,omitempty"`
	Fetched int    `json:"fetched"`
	New     int    `json:"new"`
	Drafted int    `json:"drafted"`
	Posted  int    `json:"posted"`
}

// MonitorDeps 监控循环的协作者
type MonitorDeps struct {
	Controller browser.Controller
	Generator  ai.Generator
	Tweets     repository.TweetRepository
	Drafts     DraftService
	Cooldown   cooldown.Tracker
	Metrics    *metrics.Metrics
}

// Monitor idle/running 两态状态机，运行时由单个 goroutine 顺序执行周期
type Monitor struct {
	cfg        config.MonitorConfig
	aiAttempts int
	deps       MonitorDeps
	filter     *Filter
	tracer     trace.Tracer

	now          func() time.Time
	fetchBackoff time.Duration
	fetchRetries int

	lifeMu  sync.Mutex // Start/Stop
	cycleMu sync.Mutex // 同一时刻只跑一个周期

	mu            sync.Mutex
	state         State
	autoPost      bool
	stopCh        chan struct{}
	done          chan struct{}
	cycles        int64
	lastStart     time.Time
	lastEnd       time.Time
	lastErr       string
	nextCycle     time.Time
	breakUntil    time.Time
	sessionPosts  int
	sessionTarget int
	history       []string
	historyLoaded bool
}

func NewMonitor(cfg *config.Config, deps MonitorDeps) *Monitor {
	m := &Monitor{
		cfg:          cfg.Monitor,
		aiAttempts:   cfg.AI.MaxAttempts,
		deps:         deps,
		filter:       NewFilter(cfg.Filter, cfg.Monitor.SkipProbability),
		tracer:       otel.Tracer("github.com/d60-Lab/ghostreply/internal/service"),
		now:          time.Now,
		fetchBackoff: 2 * time.Second,
		fetchRetries: 2,
		state:        StateIdle,
		autoPost:     cfg.Monitor.AutoPost,
	}
	if m.aiAttempts < 1 {
		m.aiAttempts = 1
	}
	m.sessionTarget = m.newSessionTarget()
	return m
}

// Start idle→running：先打开浏览器会话，登录失效时保持 idle
func (m *Monitor) Start(ctx context.Context, opts StartOptions) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.mu.Lock()
	running, prevDone := m.state == StateRunning, m.done
	m.mu.Unlock()
	if running {
		return ErrAlreadyRunning
	}
	// 上一次 Stop 超时返回时，旧周期可能还没结束
	if prevDone != nil {
		select {
		case <-prevDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := m.deps.Controller.OpenSession(ctx); err != nil && !errors.Is(err, browser.ErrFeed) {
		m.recordError(err)
		if errors.Is(err, browser.ErrSessionExpired) {
			alert.Capture(err, map[string]string{"component": "monitor"})
		}
		return fmt.Errorf("open session: %w", err)
	}

	stop, done := make(chan struct{}), make(chan struct{})
	m.mu.Lock()
	m.state = StateRunning
	if opts.AutoPost != nil {
		m.autoPost = *opts.AutoPost
	}
	m.stopCh, m.done = stop, done
	autoPost := m.autoPost
	m.mu.Unlock()

	m.deps.Metrics.Running.Set(1)
	logger.Info("monitor started", zap.Bool("auto_post", autoPost), zap.Duration("interval", m.cfg.Interval))
	go m.loop(stop, done)
	return nil
}

// Stop running→idle，等待当前周期结束；ctx 先到期时返回 ctx.Err()，停止仍会在周期结束后生效
func (m *Monitor) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.state = StateIdle
	m.nextCycle = time.Time{}
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()

	m.deps.Metrics.Running.Set(0)
	select {
	case <-done:
		logger.Info("monitor stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("stop timed out waiting for cycle, loop exits after it", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (m *Monitor) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	st := Status{
		State:             m.state,
		AutoPost:          m.autoPost,
		Cycles:            m.cycles,
		LastCycleStart:    timePtr(m.lastStart),
		LastCycleEnd:      timePtr(m.lastEnd),
		LastError:         m.lastErr,
		NextCycle:         timePtr(m.nextCycle),
		BreakUntil:        timePtr(m.breakUntil),
		MaxRepliesPerHour: m.cfg.MaxRepliesPerHour,
	}
	m.mu.Unlock()

	posted, err := m.deps.Drafts.PostedLastHour(ctx)
	if err != nil {
		return st, err
	}
	st.PostedLastHour = posted
	return st, nil
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRunning
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		// 周期使用独立 context，Stop 不会打断进行中的周期
		if _, err := m.RunCycle(context.Background()); err != nil {
			logger.Warn("cycle failed", zap.Error(err))
		}

		wait := m.nextWait()
		m.mu.Lock()
		m.nextCycle = m.now().Add(wait)
		m.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) nextWait() time.Duration {
	wait := m.cfg.Interval
	if m.cfg.Jitter > 0 {
		wait += time.Duration(rand.Int64N(int64(2*m.cfg.Jitter))) - m.cfg.Jitter
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// RunCycle 执行一个完整周期：抓取、去重、过滤、冷却、生成、入库、（可选）发布
func (m *Monitor) RunCycle(ctx context.Context) (res CycleResult, err error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	res.CycleID = uuid.NewString()
	log := logger.With(zap.String("cycle_id", res.CycleID))
	ctx, span := m.tracer.Start(ctx, "monitor.cycle", trace.WithAttributes(attribute.String("cycle_id", res.CycleID)))
	start := m.now()

	m.mu.Lock()
	m.cycles++
	m.lastStart = start
	autoPost := m.autoPost
	breakUntil := m.breakUntil
	m.mu.Unlock()

	defer func() {
		end := m.now()
		m.mu.Lock()
		m.lastEnd = end
		m.mu.Unlock()
		m.deps.Metrics.CycleDuration.Observe(end.Sub(start).Seconds())

		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
			m.recordError(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Skipped != "":
			outcome = "skipped"
		default:
			m.clearError()
		}
		m.deps.Metrics.Cycles.WithLabelValues(outcome).Inc()
		span.SetAttributes(
			attribute.Int("fetched", res.Fetched),
			attribute.Int("drafted", res.Drafted),
			attribute.Int("posted", res.Posted),
		)
		span.End()
		log.Info("cycle finished",
			zap.String("outcome", outcome),
			zap.Int("fetched", res.Fetched),
			zap.Int("new", res.New),
			zap.Int("drafted", res.Drafted),
			zap.Int("posted", res.Posted),
			zap.Duration("took", end.Sub(start)),
		)
	}()

	if inSleepWindow(m.cfg, start) {
		res.Skipped = "sleep window"
		return res, nil
	}
	if start.Before(breakUntil) {
		res.Skipped = "session break"
		return res, nil
	}
	m.loadHistory(ctx)

	poster := &cyclePoster{m: m, log: log, enabled: autoPost}
	if autoPost {
		if err := poster.flushQueue(ctx, &res); err != nil {
			return res, err
		}
	}

	items, err := m.fetch(ctx, log)
	if err != nil {
		if errors.Is(err, browser.ErrSessionExpired) {
			alert.Capture(err, map[string]string{"component": "monitor", "cycle_id": res.CycleID})
		}
		return res, fmt.Errorf("fetch feed: %w", err)
	}
	res.Fetched = len(items)

	fresh, err := m.dedup(ctx, items)
	if err != nil {
		return res, fmt.Errorf("dedup: %w", err)
	}
	res.New = len(fresh)
	m.deps.Metrics.Discovered.Add(float64(len(fresh)))

	for _, item := range fresh {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if ok, reason := m.filter.Check(item); !ok {
			m.deps.Metrics.Filtered.WithLabelValues(reason).Inc()
			continue
		}
		active, err := m.deps.Cooldown.Active(ctx, item.Handle)
		if err != nil {
			return res, fmt.Errorf("cooldown lookup: %w", err)
		}
		if active {
			m.deps.Metrics.Filtered.WithLabelValues(SkipCooldown).Inc()
			log.Debug("author in cooldown", zap.String("handle", item.Handle))
			continue
		}

		text, err := m.generate(ctx, item, log)
		if err != nil {
			if errors.Is(err, ai.ErrGeneration) {
				// 不入库，后续周期会重新处理
				m.deps.Metrics.Filtered.WithLabelValues("generation").Inc()
				log.Warn("generation failed, tweet left for a later pass", zap.String("tweet_id", item.ID), zap.Error(err))
				continue
			}
			return res, err
		}

		draft, err := m.store(ctx, item, text, autoPost)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("store draft: %w", err)
		}
		res.Drafted++
		m.remember(text)

		if autoPost {
			if err := poster.post(ctx, draft.ID, &res); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// fetch 在本周期内重试 ErrFeed / ErrElementNotFound；其他非时间线错误先尝试恢复页面
func (m *Monitor) fetch(ctx context.Context, log *zap.Logger) ([]browser.FeedItem, error) {
	policy := retrypolicy.NewBuilder[[]browser.FeedItem]().
		WithBackoff(m.fetchBackoff, 4*m.fetchBackoff).
		WithMaxRetries(m.fetchRetries).
		HandleIf(func(_ []browser.FeedItem, err error) bool {
			return err != nil && !errors.Is(err, browser.ErrSessionExpired) && ctx.Err() == nil
		}).
		OnRetry(func(e failsafe.ExecutionEvent[[]browser.FeedItem]) {
			log.Warn("retry feed fetch", zap.Int("attempt", e.Attempts()), zap.Error(e.LastError()))
			if !errors.Is(e.LastError(), browser.ErrFeed) {
				if err := m.deps.Controller.RecoverFromError(ctx); err != nil {
					log.Warn("recover page failed", zap.Error(err))
				}
			}
		}).
		ReturnLastFailure().
		Build()

	return failsafe.With[[]browser.FeedItem](policy).WithContext(ctx).Get(func() ([]browser.FeedItem, error) {
		return m.deps.Controller.FetchFeedItems(ctx, m.cfg.FeedSize)
	})
}

// dedup 批内按 id 去重，并去掉已入库的推文
func (m *Monitor) dedup(ctx context.Context, items []browser.FeedItem) ([]browser.FeedItem, error) {
	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	unique := make([]browser.FeedItem, 0, len(items))
	for _, it := range items {
		if it.ID == "" || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		ids = append(ids, it.ID)
		unique = append(unique, it)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	existing, err := m.deps.Tweets.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := unique[:0]
	for _, it := range unique {
		if !existing[it.ID] {
			out = append(out, it)
		}
	}
	return out, nil
}

// generate 校验不通过或与近期回复雷同时重新生成，最多 aiAttempts 次
func (m *Monitor) generate(ctx context.Context, item browser.FeedItem, log *zap.Logger) (string, error) {
	var last string
	for attempt := 1; attempt <= m.aiAttempts; attempt++ {
		text, err := m.deps.Generator.GenerateReply(ctx, item.Text, item.FirstImage())
		if err != nil {
			return "", err
		}
		if ok, reason := ai.ValidateReply(text); !ok {
			last = reason
			log.Debug("reply rejected by validation", zap.Int("attempt", attempt), zap.String("reason", reason))
			continue
		}
		if m.similarToRecent(text) {
			last = "similar to a recent reply"
			log.Debug("reply too similar to recent ones", zap.Int("attempt", attempt))
			continue
		}
		return text, nil
	}
	return "", fmt.Errorf("%w: no acceptable reply after %d attempts (%s)", ai.ErrGeneration, m.aiAttempts, last)
}

func (m *Monitor) store(ctx context.Context, item browser.FeedItem, text string, approved bool) (*model.ReplyDraft, error) {
	status := model.DraftStatusPending
	if approved {
		status = model.DraftStatusApproved
	}
	tweet := &model.Tweet{
		ID:           item.ID,
		URL:          item.URL,
		Author:       item.Author,
		AuthorHandle: cooldown.Normalize(item.Handle),
		Text:         item.Text,
		ImageURL:     item.FirstImage(),
		Likes:        item.Likes,
		Retweets:     item.Retweets,
		DiscoveredAt: m.now().UTC(),
	}
	draft := &model.ReplyDraft{
		TweetURL:     item.URL,
		AuthorHandle: tweet.AuthorHandle,
		Text:         text,
		Status:       status,
	}
	if err := m.deps.Tweets.CreateWithDraft(ctx, tweet, draft); err != nil {
		return nil, err
	}
	m.deps.Metrics.Drafts.WithLabelValues("created").Inc()
	return draft, nil
}

// cyclePoster 周期内的自动发布：限速、随机延迟、会话休息
type cyclePoster struct {
	m       *Monitor
	log     *zap.Logger
	enabled bool
}

func (p *cyclePoster) flushQueue(ctx context.Context, res *CycleResult) error {
	queued, err := p.m.deps.Drafts.Queued(ctx, p.m.cfg.MaxRepliesPerHour)
	if err != nil {
		return fmt.Errorf("list queued drafts: %w", err)
	}
	for _, d := range queued {
		if !p.enabled {
			return nil
		}
		if err := p.post(ctx, d.ID, res); err != nil {
			return err
		}
	}
	return nil
}

// post 被限速或进入休息后本周期不再发布，草稿保持 approved 留给后续周期
func (p *cyclePoster) post(ctx context.Context, id uint, res *CycleResult) error {
	if !p.enabled {
		return nil
	}
	posted, err := p.m.deps.Drafts.PostedLastHour(ctx)
	if err != nil {
		return err
	}
	if posted >= int64(p.m.cfg.MaxRepliesPerHour) {
		p.log.Info("hourly limit reached, posting deferred", zap.Int64("posted_last_hour", posted))
		p.enabled = false
		return nil
	}
	if err := sleepCtx(ctx, jitterBetween(p.m.cfg.MinDelay, p.m.cfg.MaxDelay)); err != nil {
		return err
	}

	_, err = p.m.deps.Drafts.Post(ctx, id)
	switch {
	case err == nil:
		res.Posted++
		if p.m.countSessionPost() {
			p.enabled = false
		}
		return nil
	case errors.Is(err, ErrRateLimited):
		p.enabled = false
		return nil
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrDraftNotFound):
		// 人工操作抢先改了状态
		return nil
	case errors.Is(err, ErrAuthorCooldown):
		p.log.Info("draft skipped, author in cooldown", zap.Uint("draft_id", id))
		return nil
	case errors.Is(err, ErrPostFailed):
		p.log.Warn("auto-post failed", zap.Uint("draft_id", id), zap.Error(err))
		return nil
	default:
		return fmt.Errorf("post draft %d: %w", id, err)
	}
}

// countSessionPost 达到本轮目标发帖数后进入休息，返回是否开始休息
func (m *Monitor) countSessionPost() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionTarget <= 0 {
		return false
	}
	m.sessionPosts++
	if m.sessionPosts < m.sessionTarget {
		return false
	}
	pause := jitterBetween(m.cfg.BreakMin, m.cfg.BreakMax)
	m.breakUntil = m.now().Add(pause)
	m.sessionPosts = 0
	m.sessionTarget = m.newSessionTarget()
	logger.Info("session break", zap.Duration("pause", pause))
	return true
}

func (m *Monitor) newSessionTarget() int {
	lo, hi := m.cfg.SessionMin, m.cfg.SessionMax
	if hi <= 0 {
		return 0
	}
	if lo < 1 {
		lo = 1
	}
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}

// loadHistory 首个周期从库里载入最近的回复，用于雷同检测
func (m *Monitor) loadHistory(ctx context.Context) {
	m.mu.Lock()
	loaded := m.historyLoaded
	m.mu.Unlock()
	if loaded || m.cfg.HistorySize <= 0 {
		return
	}
	recent, _, err := m.deps.Drafts.List(ctx, "", 1, m.cfg.HistorySize)
	if err != nil {
		logger.Warn("load reply history failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(recent) - 1; i >= 0; i-- {
		m.history = append(m.history, recent[i].Text)
	}
	m.historyLoaded = true
}

func (m *Monitor) remember(text string) {
	if m.cfg.HistorySize <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, text)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = m.history[over:]
	}
}

func (m *Monitor) similarToRecent(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.history {
		if similar(text, h) {
			return true
		}
	}
	return false
}

func (m *Monitor) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

func (m *Monitor) clearError() {
	m.mu.Lock()
	m.lastErr = ""
	m.mu.Unlock()
}

// inSleepWindow 按本地小时判断，支持跨零点；起止相同视为关闭
func inSleepWindow(cfg config.MonitorConfig, t time.Time) bool {
	if !cfg.SleepWindowEnabled() {
		return false
	}
	h := t.Hour()
	if cfg.SleepStart < cfg.SleepEnd {
		return h >= cfg.SleepStart && h < cfg.SleepEnd
	}
	return h >= cfg.SleepStart || h < cfg.SleepEnd
}

func jitterBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
