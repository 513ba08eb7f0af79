package service

import (
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/d60-Lab/ghostreply/config"
	"github.com/d60-Lab/ghostreply/internal/browser"
)

// 过滤原因，同时用作 metrics label
const (
	SkipEngagement = "engagement"
	SkipKeyword    = "keyword"
	SkipIgnored    = "ignored"
	SkipRandom     = "random"
	SkipCooldown   = "cooldown"
)

// Filter 关键词 + 互动阈值 + 屏蔽词 + 随机跳过
type Filter struct {
	minLikes    int
	minRetweets int
	keywords    []*regexp.Regexp
	ignore      []string
	skipProb    float64
	roll        func() float64
}

func NewFilter(cfg config.FilterConfig, skipProbability float64) *Filter {
	f := &Filter{
		minLikes:    cfg.MinLikes,
		minRetweets: cfg.MinRetweets,
		skipProb:    skipProbability,
		roll:        rand.Float64,
	}
	for _, kw := range cfg.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			f.keywords = append(f.keywords, wordPattern(kw))
		}
	}
	for _, p := range cfg.Ignore {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			f.ignore = append(f.ignore, p)
		}
	}
	return f
}

// wordPattern 整词、大小写不敏感；边界按字母数字判断，"AI" 不会命中 "said"
func wordPattern(kw string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\pL\pN_])` + regexp.QuoteMeta(kw) + `(?:$|[^\pL\pN_])`)
}

// Check 返回是否保留；不保留时给出原因
func (f *Filter) Check(item browser.FeedItem) (bool, string) {
	if item.Likes < f.minLikes && item.Retweets < f.minRetweets {
		return false, SkipEngagement
	}
	if !f.matchKeyword(item.Text) {
		return false, SkipKeyword
	}
	lower := strings.ToLower(item.Text)
	for _, p := range f.ignore {
		if strings.Contains(lower, p) {
			return false, SkipIgnored
		}
	}
	if f.skipProb > 0 && f.roll() < f.skipProb {
		return false, SkipRandom
	}
	return true, ""
}

func (f *Filter) matchKeyword(text string) bool {
	if len(f.keywords) == 0 {
		return true
	}
	for _, re := range f.keywords {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
