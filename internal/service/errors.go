package service

import "errors"

var (
	ErrDraftNotFound     = errors.New("draft not found")
	ErrTweetNotFound     = errors.New("tweet not found")
	ErrInvalidTransition = errors.New("invalid draft status transition")
	ErrRateLimited       = errors.New("hourly reply limit reached")
	ErrPostFailed        = errors.New("post failed, draft marked failed")
	ErrAuthorCooldown    = errors.New("author still in cooldown, draft marked failed")
	ErrAlreadyRunning    = errors.New("monitor already running")
	ErrNotRunning        = errors.New("monitor not running")
)
