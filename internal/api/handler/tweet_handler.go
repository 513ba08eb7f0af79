package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/ghostreply/pkg/response"
)

// ListTweets 已入库推文
// @Summary 推文列表
// @Tags 推文
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=listResponse}
// @Security BearerAuth
// @Router /api/v1/tweets [get]
func (h *Handler) ListTweets(c *gin.Context) {
	page, pageSize, ok := pageParams(c)
	if !ok {
		return
	}
	list, total, err := h.tweets.List(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, listResponse{Page: page, PageSize: pageSize, Total: total, List: list})
}

// GetTweet 单条推文
// @Summary 推文详情
// @Tags 推文
// @Produce json
// @Param id path string true "推文ID"
// @Success 200 {object} response.Response{data=model.Tweet}
// @Failure 404 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/tweets/{id} [get]
func (h *Handler) GetTweet(c *gin.Context) {
	t, err := h.tweets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, t)
}
