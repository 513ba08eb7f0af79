package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/d60-Lab/ghostreply/config"
	"github.com/d60-Lab/ghostreply/pkg/logger"
)

const (
	selPrimaryColumn = `[data-testid="primaryColumn"]`
	selArticle       = `article[data-testid="tweet"]`
	selTweetText     = `[data-testid="tweetText"]`
	selUserName      = `[data-testid="User-Name"]`
	selStatusLink    = `a[href*="/status/"]`
	selLikeCount     = `[data-testid="like"] span`
	selRetweetCount  = `[data-testid="retweet"] span`
	selImage         = `img[src*="http"]`
	selReplyButton   = `[data-testid="reply"]`
	selComposer      = `[data-testid="tweetTextarea_0"]`
	selPostInline    = `[data-testid="tweetButtonInline"]`
	selPostDialog    = `[data-testid="tweetButton"]`
	selButtons       = `div[role="button"], button`
	selAlerts        = `[data-testid="toast"], [role="alert"], [role="alertdialog"]`

	retryTextRe     = `/^\s*Retry\s*$/`
	rejectionTextRe = `/something went wrong|rate limit|you are unable to|try again later/i`

	feedScrolls = 3
	stableWait  = 800 * time.Millisecond
)

// RodController 基于 go-rod + stealth 的 Controller 实现。
// 单个浏览器、单个页面，所有操作由 mu 串行化。
type RodController struct {
	cfg        config.BrowserConfig
	minTextLen int
	retry      retrypolicy.RetryPolicy[any]

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

var _ Controller = (*RodController)(nil)

// NewRodController minTextLen 以下的推文在抓取时直接丢弃
func NewRodController(cfg config.BrowserConfig, minTextLen int) *RodController {
	retries := cfg.RetryBudget
	if retries < 0 {
		retries = 0
	}
	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(500*time.Millisecond, 5*time.Second).
		WithMaxRetries(retries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, ErrElementNotFound)
		}).
		ReturnLastFailure().
		Build()
	return &RodController{cfg: cfg, minTextLen: minTextLen, retry: policy}
}

func (c *RodController) OpenSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

func (c *RodController) openLocked(ctx context.Context) error {
	if c.page == nil {
		if err := c.launchLocked(c.cfg.Headless); err != nil {
			return err
		}
		cookies, err := LoadCookies(c.cfg.SessionFile)
		if err != nil && c.cfg.ProfileDir == "" {
			return err
		}
		if len(cookies) > 0 {
			if err := c.browser.SetCookies(proto.CookiesToParams(cookies)); err != nil {
				return fmt.Errorf("restore cookies: %w", err)
			}
		}
		page, err := stealth.Page(c.browser)
		if err != nil {
			return fmt.Errorf("create page: %w", err)
		}
		c.page = page
	}
	return c.goHomeLocked(ctx)
}

func (c *RodController) launchLocked(headless bool) error {
	l := launcher.New().
		Headless(headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", "1280,900").
		Set("lang", "en-US")
	if c.cfg.BinPath != "" {
		l = l.Bin(c.cfg.BinPath)
	}
	if c.cfg.ProfileDir != "" {
		l = l.UserDataDir(c.cfg.ProfileDir)
	}
	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("connect to browser: %w", err)
	}
	c.launcher, c.browser = l, b
	return nil
}

// goHomeLocked 打开首页。跳转到登录页、或主栏缺失且没有 Retry 按钮，视为登录态失效
func (c *RodController) goHomeLocked(ctx context.Context) error {
	p, cancel := c.timed(ctx)
	defer cancel()
	if err := p.Navigate(c.homeURL()); err != nil {
		return fmt.Errorf("navigate home: %w", err)
	}
	_ = p.WaitLoad()
	_ = p.WaitStable(stableWait)

	if loginURL(c.currentURL(p)) {
		return ErrSessionExpired
	}
	if _, err := p.Element(selPrimaryColumn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rp, rcancel := c.timed(ctx)
		defer rcancel()
		if c.clickRetryLocked(rp) {
			if _, err := rp.Element(selPrimaryColumn); err == nil {
				return nil
			}
			return ErrFeed
		}
		return fmt.Errorf("%w: primary column missing", ErrSessionExpired)
	}
	return nil
}

func (c *RodController) FetchFeedItems(ctx context.Context, n int) ([]FeedItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.page == nil {
		if err := c.openLocked(ctx); err != nil {
			return nil, err
		}
	} else if err := c.goHomeLocked(ctx); err != nil {
		return nil, err
	}

	p := c.page.Context(ctx)
	if has, _, _ := p.HasR(selButtons, retryTextRe); has {
		logger.Warn("feed error banner, clicking retry")
		c.clickRetryLocked(p)
		return nil, ErrFeed
	}

	err := c.run(ctx, func() error {
		tp, cancel := c.timed(ctx)
		defer cancel()
		_, err := tp.Element(selArticle)
		return classify(err)
	})
	if err != nil {
		return nil, err
	}

	for i := 0; i < feedScrolls; i++ {
		if _, err := p.Eval(`() => window.scrollBy(0, 600)`); err != nil {
			break
		}
		if err := sleep(ctx, 1500*time.Millisecond); err != nil {
			return nil, err
		}
	}

	articles, err := p.Elements(selArticle)
	if err != nil {
		return nil, classify(err)
	}
	items := make([]FeedItem, 0, n)
	for _, el := range articles {
		if len(items) >= n {
			break
		}
		raw, err := readArticle(el)
		if err != nil {
			logger.Debug("skip unreadable article", zap.Error(err))
			continue
		}
		if item, ok := buildFeedItem(raw, c.cfg.BaseURL, c.minTextLen); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func readArticle(el *rod.Element) (rawArticle, error) {
	var raw rawArticle
	raw.Text = childText(el, selTweetText)
	if raw.Text == "" {
		return raw, nil
	}
	raw.UserBlock = childText(el, selUserName)
	raw.Likes = childText(el, selLikeCount)
	raw.Retweets = childText(el, selRetweetCount)

	links, err := el.Elements(selStatusLink)
	if err != nil {
		return raw, err
	}
	for _, a := range links {
		href, err := a.Attribute("href")
		if err != nil || href == nil {
			continue
		}
		hasTime, _, _ := a.Has("time")
		raw.Links = append(raw.Links, statusLink{Href: *href, HasTime: hasTime})
	}

	imgs, err := el.Elements(selImage)
	if err != nil {
		return raw, err
	}
	for _, img := range imgs {
		if src, err := img.Attribute("src"); err == nil && src != nil {
			raw.Images = append(raw.Images, *src)
		}
	}
	return raw, nil
}

func childText(el *rod.Element, selector string) string {
	has, child, err := el.Has(selector)
	if err != nil || !has {
		return ""
	}
	text, err := child.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func (c *RodController) PostReply(ctx context.Context, tweetURL, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.page == nil {
		if err := c.openLocked(ctx); err != nil {
			return err
		}
	}
	p := c.page.Context(ctx)
	if err := c.navigate(ctx, tweetURL); err != nil {
		return fmt.Errorf("navigate to tweet: %w", err)
	}
	if loginURL(c.currentURL(p)) {
		return ErrSessionExpired
	}

	var composer *rod.Element
	err := c.run(ctx, func() error {
		tp, cancel := c.timed(ctx)
		defer cancel()
		has, el, err := tp.Has(selComposer)
		if err != nil {
			return classify(err)
		}
		if !has {
			btn, err := tp.Element(selReplyButton)
			if err != nil {
				return classify(err)
			}
			if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return classify(err)
			}
			if el, err = tp.Element(selComposer); err != nil {
				return classify(err)
			}
		}
		composer = el.Context(ctx)
		return nil
	})
	if err != nil {
		return fmt.Errorf("open composer: %w", err)
	}

	if err := composer.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus composer: %w", classify(err))
	}
	if err := c.typeText(ctx, p, text); err != nil {
		return fmt.Errorf("type reply: %w", err)
	}
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}

	// 提交之后的任何中断都无法判断回复是否已发出
	if err := c.submit(ctx); err != nil {
		return fmt.Errorf("%w: submit reply: %w", ErrUnconfirmed, err)
	}
	if err := c.waitPosted(ctx, p); err != nil {
		if errors.Is(err, ErrPostRejected) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnconfirmed, err)
	}
	return nil
}

// typeText 逐字输入，每个字符之间随机停顿
func (c *RodController) typeText(ctx context.Context, p *rod.Page, text string) error {
	for _, r := range text {
		if err := p.InsertText(string(r)); err != nil {
			return err
		}
		if err := sleep(ctx, jitter(c.cfg.TypingDelayMin, c.cfg.TypingDelayMax)); err != nil {
			return err
		}
	}
	return nil
}

// submit 优先点击发布按钮，找不到时用 Ctrl+Enter
func (c *RodController) submit(ctx context.Context) error {
	p, cancel := c.timed(ctx)
	defer cancel()
	for _, sel := range []string{selPostInline, selPostDialog} {
		has, btn, err := p.Has(sel)
		if err != nil || !has {
			continue
		}
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err == nil {
			return nil
		}
	}
	return p.KeyActions().Press(input.ControlLeft).Type(input.Enter).Do()
}

// waitPosted 输入框清空或关闭即成功；出现拒绝提示则返回 ErrPostRejected
func (c *RodController) waitPosted(ctx context.Context, p *rod.Page) error {
	deadline := time.Now().Add(c.cfg.ActionTimeout)
	for time.Now().Before(deadline) {
		if has, el, _ := p.HasR(selAlerts, rejectionTextRe); has {
			msg, _ := el.Text()
			return fmt.Errorf("%w: %s", ErrPostRejected, strings.TrimSpace(msg))
		}
		has, composer, err := p.Has(selComposer)
		if err == nil {
			if !has {
				return nil
			}
			if txt, err := composer.Text(); err == nil && strings.TrimSpace(txt) == "" {
				return nil
			}
		}
		if err := sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: composer did not clear", ErrPostRejected)
}

func (c *RodController) RecoverFromError(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil
	}
	p, cancel := c.timed(ctx)
	defer cancel()
	if c.clickRetryLocked(p) {
		return nil
	}
	if err := p.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	_ = p.WaitLoad()
	return nil
}

func (c *RodController) clickRetryLocked(p *rod.Page) bool {
	has, btn, err := p.HasR(selButtons, retryTextRe)
	if err != nil || !has {
		return false
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		logger.Warn("click retry failed", zap.Error(err))
		return false
	}
	_ = p.WaitStable(stableWait)
	return true
}

// Login 打开有界面的浏览器等待人工登录，成功后写入会话文件
func (c *RodController) Login(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	if err := c.launchLocked(false); err != nil {
		return err
	}
	page, err := stealth.Page(c.browser)
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	c.page = page

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := page.Context(ctx)
	if err := p.Navigate(strings.TrimRight(c.cfg.BaseURL, "/") + "/login"); err != nil {
		return fmt.Errorf("navigate to login: %w", err)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("login not completed: %w", ctx.Err())
		case <-ticker.C:
		}
		u := c.currentURL(p)
		if u == "" || loginURL(u) {
			continue
		}
		if has, _, _ := p.Has(selPrimaryColumn); !has {
			continue
		}
		cookies, err := c.browser.GetCookies()
		if err != nil {
			return fmt.Errorf("read cookies: %w", err)
		}
		if err := SaveCookies(c.cfg.SessionFile, cookies); err != nil {
			return err
		}
		logger.Info("login complete, session saved", zap.String("file", c.cfg.SessionFile), zap.Int("cookies", len(cookies)))
		return nil
	}
}

func (c *RodController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *RodController) closeLocked() error {
	var err error
	if c.browser != nil {
		err = c.browser.Close()
	}
	if c.launcher != nil {
		c.launcher.Cleanup()
	}
	c.page, c.browser, c.launcher = nil, nil, nil
	return err
}

func (c *RodController) run(ctx context.Context, fn func() error) error {
	return failsafe.With[any](c.retry).WithContext(ctx).Run(fn)
}

// timed 每个步骤单独计时，重试时不会继承上一次已耗尽的超时
func (c *RodController) timed(ctx context.Context) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
	return c.page.Context(ctx), cancel
}

func (c *RodController) navigate(ctx context.Context, u string) error {
	p, cancel := c.timed(ctx)
	defer cancel()
	if err := p.Navigate(u); err != nil {
		return err
	}
	_ = p.WaitLoad()
	_ = p.WaitStable(stableWait)
	return nil
}

func (c *RodController) homeURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/home"
}

func (c *RodController) currentURL(p *rod.Page) string {
	info, err := p.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func loginURL(u string) bool {
	return strings.Contains(u, "/login") || strings.Contains(u, "/i/flow")
}

// classify 把 rod 的找不到元素、超时归为可重试的 ErrElementNotFound
func classify(err error) error {
	if err == nil {
		return nil
	}
	var nf *rod.ElementNotFoundError
	if errors.As(err, &nf) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrElementNotFound, err)
	}
	return err
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
