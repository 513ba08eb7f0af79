package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/ghostreply/internal/service"
	"github.com/d60-Lab/ghostreply/pkg/response"
)

type startRequest struct {
	AutoPost *bool `json:"auto_post"`
}

// Start 启动监控循环
// @Summary 启动监控
// @Tags 控制
// @Accept json
// @Produce json
// @Param request body startRequest false "启动参数"
// @Success 200 {object} response.Response{data=service.Status}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 500 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/control/start [post]
func (h *Handler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.monitor.Start(c.Request.Context(), service.StartOptions{AutoPost: req.AutoPost}); err != nil {
		fail(c, err)
		return
	}
	h.writeStatus(c)
}

// Stop 停止监控循环，等待当前周期结束
// @Summary 停止监控
// @Tags 控制
// @Produce json
// @Success 200 {object} response.Response{data=service.Status}
// @Success 202 {object} response.Response "周期仍在进行，结束后停止"
// @Failure 409 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/control/stop [post]
func (h *Handler) Stop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.stopTimeout)
	defer cancel()
	err := h.monitor.Stop(ctx)
	// 超时或客户端断开时停止仍会在当前周期结束后生效
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		response.Accepted(c, gin.H{"state": service.StateIdle, "note": "stopping after the current cycle"})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	h.writeStatus(c)
}

// Status 监控状态
// @Summary 监控状态
// @Tags 控制
// @Produce json
// @Success 200 {object} response.Response{data=service.Status}
// @Security BearerAuth
// @Router /api/v1/control/status [get]
func (h *Handler) Status(c *gin.Context) {
	h.writeStatus(c)
}

func (h *Handler) writeStatus(c *gin.Context) {
	st, err := h.monitor.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, st)
}
