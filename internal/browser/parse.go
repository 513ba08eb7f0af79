package browser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var statusIDRe = regexp.MustCompile(`/status/(\d+)`)

// ParseCount 解析 "5.2K"、"1,204"、"3M" 这类互动数，无法解析时返回 0
func ParseCount(s string) int {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "B"):
		mult, s = 1e9, strings.TrimSuffix(s, "B")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f*mult + 0.5)
}

// StatusID extracts the numeric status id from a permalink.
func StatusID(permalink string) string {
	m := statusIDRe.FindStringSubmatch(permalink)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseUserName 解析 User-Name 区块文本：第一行是显示名，@ 开头的行是 handle
func ParseUserName(block string) (author, handle string) {
	var lines []string
	for _, l := range strings.Split(block, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return "", ""
	}
	author = lines[0]
	for _, l := range lines[1:] {
		if strings.HasPrefix(l, "@") {
			handle = l
			break
		}
	}
	if handle == "" && len(lines) > 1 {
		handle = lines[1]
	}
	handle = strings.TrimPrefix(handle, "@")
	if i := strings.Index(handle, "·"); i >= 0 {
		handle = handle[:i]
	}
	return author, strings.TrimSpace(handle)
}

// FilterImages 去掉头像和 emoji 图片，保序去重
func FilterImages(srcs []string) []string {
	seen := make(map[string]bool, len(srcs))
	var out []string
	for _, src := range srcs {
		if !strings.HasPrefix(src, "http") {
			continue
		}
		if strings.Contains(src, "profile_images") || strings.Contains(src, "emoji") {
			continue
		}
		if seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

// AbsoluteURL resolves href against base; absolute hrefs are returned unchanged.
func AbsoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

// statusLink 推文卡片里的一个 /status/ 链接
type statusLink struct {
	Href    string
	HasTime bool
}

// pickPermalink 优先取包含时间戳的链接，其次取第一个非图片、非统计页的链接
func pickPermalink(links []statusLink) string {
	for _, l := range links {
		if l.HasTime && StatusID(l.Href) != "" {
			return l.Href
		}
	}
	for _, l := range links {
		if strings.Contains(l.Href, "/analytics") || strings.Contains(l.Href, "/photo/") {
			continue
		}
		if StatusID(l.Href) != "" {
			return l.Href
		}
	}
	return ""
}

// rawArticle 从 DOM 读出的原始字段
type rawArticle struct {
	Text      string
	UserBlock string
	Links     []statusLink
	Likes     string
	Retweets  string
	Images    []string
}

// buildFeedItem 文本过短或缺少 status id 的条目被丢弃
func buildFeedItem(raw rawArticle, baseURL string, minTextLen int) (FeedItem, bool) {
	text := strings.TrimSpace(raw.Text)
	if len([]rune(text)) < minTextLen {
		return FeedItem{}, false
	}
	permalink := AbsoluteURL(baseURL, pickPermalink(raw.Links))
	id := StatusID(permalink)
	if id == "" {
		return FeedItem{}, false
	}
	author, handle := ParseUserName(raw.UserBlock)
	return FeedItem{
		ID:       id,
		URL:      permalink,
		Text:     text,
		Author:   author,
		Handle:   handle,
		Images:   FilterImages(raw.Images),
		Likes:    ParseCount(raw.Likes),
		Retweets: ParseCount(raw.Retweets),
	}, true
}
