package browser

import "errors"

var (
	// ErrSessionExpired 登录态失效，需要重新执行 ghostreply login
	ErrSessionExpired = errors.New("browser session expired")
	// ErrFeed 时间线加载失败（站点错误横幅），可在本周期内重试
	ErrFeed = errors.New("feed failed to load")
	// ErrElementNotFound 选择器未命中，通常是页面结构变化或加载过慢
	ErrElementNotFound = errors.New("element not found")
	// ErrPostRejected 站点拒绝发布（提示框、频率限制等）
	ErrPostRejected = errors.New("reply rejected by site")
	// ErrUnconfirmed 已提交但未等到发布结果，回复可能已经出现在站点上
	ErrUnconfirmed = errors.New("reply submitted but not confirmed")
)
