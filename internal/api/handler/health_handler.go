package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/ghostreply/internal/service"
	"github.com/d60-Lab/ghostreply/pkg/response"
)

// Health 存活检查
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	state := service.StateIdle
	if h.monitor.Running() {
		state = service.StateRunning
	}
	response.Success(c, gin.H{"status": "ok", "monitor": state})
}
