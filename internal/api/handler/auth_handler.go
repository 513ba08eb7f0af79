package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/d60-Lab/ghostreply/internal/api/middleware"
	"github.com/d60-Lab/ghostreply/pkg/response"
)

type tokenRequest struct {
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken 用管理员密码换取 JWT
// @Summary 获取访问令牌
// @Tags 鉴权
// @Accept json
// @Produce json
// @Param request body tokenRequest true "管理员密码"
// @Success 200 {object} response.Response{data=tokenResponse}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/token [post]
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if h.auth.AdminPasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(h.auth.AdminPasswordHash), []byte(req.Password)) != nil {
		response.Unauthorized(c, "invalid credentials")
		return
	}
	token, exp, err := middleware.IssueToken([]byte(h.auth.JWTSecret), h.auth.TokenTTL)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, tokenResponse{Token: token, ExpiresAt: exp})
}
