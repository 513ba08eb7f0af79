package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/ghostreply/internal/model"
	"github.com/d60-Lab/ghostreply/internal/service"
	"github.com/d60-Lab/ghostreply/pkg/response"
)

func draftID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid draft id")
		return 0, false
	}
	return uint(id), true
}

// ListDrafts 草稿列表
// @Summary 草稿列表
// @Tags 草稿
// @Produce json
// @Param status query string false "状态" Enums(pending, approved, rejected, posted, failed)
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=listResponse}
// @Failure 400 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/drafts [get]
func (h *Handler) ListDrafts(c *gin.Context) {
	var status model.DraftStatus
	if s := c.Query("status"); s != "" {
		st, err := model.ParseDraftStatus(s)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		status = st
	}
	page, pageSize, ok := pageParams(c)
	if !ok {
		return
	}
	list, total, err := h.drafts.List(c.Request.Context(), status, page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, listResponse{Page: page, PageSize: pageSize, Total: total, List: list})
}

// GetDraft 单个草稿
// @Summary 草稿详情
// @Tags 草稿
// @Produce json
// @Param id path int true "草稿ID"
// @Success 200 {object} response.Response{data=model.ReplyDraft}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/drafts/{id} [get]
func (h *Handler) GetDraft(c *gin.Context) {
	id, ok := draftID(c)
	if !ok {
		return
	}
	d, err := h.drafts.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, d)
}

// ApproveDraft pending→approved
// @Summary 通过草稿
// @Tags 草稿
// @Produce json
// @Param id path int true "草稿ID"
// @Success 200 {object} response.Response{data=model.ReplyDraft}
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/drafts/{id}/approve [post]
func (h *Handler) ApproveDraft(c *gin.Context) {
	id, ok := draftID(c)
	if !ok {
		return
	}
	d, err := h.drafts.Approve(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, d)
}

// RejectDraft pending→rejected
// @Summary 拒绝草稿
// @Tags 草稿
// @Produce json
// @Param id path int true "草稿ID"
// @Success 200 {object} response.Response{data=model.ReplyDraft}
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Security BearerAuth
// @Router /api/v1/drafts/{id}/reject [post]
func (h *Handler) RejectDraft(c *gin.Context) {
	id, ok := draftID(c)
	if !ok {
		return
	}
	d, err := h.drafts.Reject(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, d)
}

// PostDraft 立即发布已通过的草稿
// @Summary 发布草稿
// @Tags 草稿
// @Produce json
// @Param id path int true "草稿ID"
// @Success 200 {object} response.Response{data=model.ReplyDraft}
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 429 {object} response.Response
// @Failure 500 {object} response.Response{data=model.ReplyDraft} "发布失败，草稿已标记 failed"
// @Security BearerAuth
// @Router /api/v1/drafts/{id}/post [post]
func (h *Handler) PostDraft(c *gin.Context) {
	id, ok := draftID(c)
	if !ok {
		return
	}
	d, err := h.drafts.Post(c.Request.Context(), id)
	if errors.Is(err, service.ErrPostFailed) {
		response.InternalErrorWithData(c, err, d)
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, d)
}

// Stats 统计
// @Summary 统计
// @Tags 草稿
// @Produce json
// @Success 200 {object} response.Response{data=service.Stats}
// @Security BearerAuth
// @Router /api/v1/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.drafts.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, st)
}
