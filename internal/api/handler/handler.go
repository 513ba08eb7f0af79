package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/ghostreply/config"
	"github.com/d60-Lab/ghostreply/internal/browser"
	"github.com/d60-Lab/ghostreply/internal/service"
	"github.com/d60-Lab/ghostreply/pkg/response"
)

// Monitor 控制接口需要的监控循环能力
type Monitor interface {
	Start(ctx context.Context, opts service.StartOptions) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (service.Status, error)
	Running() bool
}

type Handler struct {
	monitor     Monitor
	drafts      service.DraftService
	tweets      service.TweetService
	auth        config.AuthConfig
	stopTimeout time.Duration
}

func New(monitor Monitor, drafts service.DraftService, tweets service.TweetService, auth config.AuthConfig, stopTimeout time.Duration) *Handler {
	return &Handler{
		monitor:     monitor,
		drafts:      drafts,
		tweets:      tweets,
		auth:        auth,
		stopTimeout: stopTimeout,
	}
}

// listResponse 分页列表
type listResponse struct {
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    int64       `json:"total"`
	List     interface{} `json:"list"`
}

func pageParams(c *gin.Context) (page, pageSize int, ok bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		response.BadRequest(c, "invalid page")
		return 0, 0, false
	}
	pageSize, err = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		response.BadRequest(c, "invalid page_size")
		return 0, 0, false
	}
	return page, pageSize, true
}

// fail 把业务错误映射成 HTTP 状态码
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDraftNotFound), errors.Is(err, service.ErrTweetNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAlreadyRunning),
		errors.Is(err, service.ErrNotRunning),
		errors.Is(err, service.ErrAuthorCooldown):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		response.TooManyRequests(c, err.Error())
	case errors.Is(err, browser.ErrSessionExpired):
		response.InternalErrorWithData(c, err, gin.H{"hint": "run `ghostreply login` to refresh the session"})
	default:
		response.InternalError(c, err)
	}
}
