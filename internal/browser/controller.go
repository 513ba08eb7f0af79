// Package browser drives the logged-in web session: reading the home feed
// and posting replies.
package browser

import "context"

// FeedItem 时间线上的一条推文
type FeedItem struct {
	ID       string
	URL      string
	Text     string
	Author   string
	Handle   string
	Images   []string
	Likes    int
	Retweets int
}

// FirstImage returns the first media URL or "".
func (f FeedItem) FirstImage() string {
	if len(f.Images) == 0 {
		return ""
	}
	return f.Images[0]
}

// Controller 浏览器能力接口，监控循环与发布器只依赖它
type Controller interface {
	// OpenSession 恢复已保存的登录态并打开首页，幂等
	OpenSession(ctx context.Context) error
	// FetchFeedItems 返回首页时间线上至多 n 条推文
	FetchFeedItems(ctx context.Context, n int) ([]FeedItem, error)
	PostReply(ctx context.Context, tweetURL, text string) error
	// RecoverFromError 点击站点的 Retry 按钮或重新加载首页
	RecoverFromError(ctx context.Context) error
	Close() error
}
