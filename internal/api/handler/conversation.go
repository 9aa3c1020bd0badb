package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"hudhud.im.sync/internal/api/middleware"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/service"
	"hudhud.im.sync/pkg/response"
)

// Conversations 会话注册表，*service.ConversationService 满足该接口
type Conversations interface {
	CreateDirect(ctx context.Context, a, b string) (*model.Conversation, error)
	FindDirect(ctx context.Context, a, b string) (*model.Conversation, error)
	CreateGroup(ctx context.Context, creator string, members []string, info service.GroupInfo) (*model.Conversation, error)
	Get(ctx context.Context, convID, uid string) (*model.Conversation, error)
	UpdateMembership(ctx context.Context, convID, actor string, added, removed []string) (*model.Conversation, error)
	UpdateInfo(ctx context.Context, convID, actor string, info service.GroupInfo) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, convID, actor string) error
	List(ctx context.Context, uid string, offset, limit int64) ([]*model.Conversation, error)
	TotalUnread(ctx context.Context, uid string) (int64, error)
}

// ConversationHandler 会话处理器
type ConversationHandler struct {
	convs Conversations
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(convs Conversations) *ConversationHandler {
	return &ConversationHandler{convs: convs}
}

// CreateDirectRequest 创建私聊请求
type CreateDirectRequest struct {
	PeerID string `json:"peerId" binding:"required"`
}

// CreateGroupRequest 创建群聊请求
type CreateGroupRequest struct {
	Members []string `json:"members" binding:"required,min=1"`
	service.GroupInfo
}

// MembershipRequest 增删群成员请求
type MembershipRequest struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// List 会话列表，按最后消息时间倒序
// GET /api/v1/conversations?offset=0&limit=50
func (h *ConversationHandler) List(c *gin.Context) {
	uid := middleware.GetUserID(c)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)

	convs, err := h.convs.List(c.Request.Context(), uid, offset, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"list": convs})
}

// TotalUnread 全部会话的未读总数
// GET /api/v1/conversations/unread
func (h *ConversationHandler) TotalUnread(c *gin.Context) {
	total, err := h.convs.TotalUnread(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"unread": total})
}

// Get 会话详情
// GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.convs.Get(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// CreateDirect 创建私聊，已存在时返回 409
// POST /api/v1/conversations/direct
func (h *ConversationHandler) CreateDirect(c *gin.Context) {
	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	conv, err := h.convs.CreateDirect(c.Request.Context(), middleware.GetUserID(c), req.PeerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// FindDirect 查找与对方的私聊
// GET /api/v1/conversations/direct/:peerId
func (h *ConversationHandler) FindDirect(c *gin.Context) {
	conv, err := h.convs.FindDirect(c.Request.Context(), middleware.GetUserID(c), c.Param("peerId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// CreateGroup 创建群聊，创建者为管理员
// POST /api/v1/conversations/group
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	conv, err := h.convs.CreateGroup(c.Request.Context(), middleware.GetUserID(c), req.Members, req.GroupInfo)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// UpdateMembership 管理员增删成员
// PATCH /api/v1/conversations/:id/members
func (h *ConversationHandler) UpdateMembership(c *gin.Context) {
	var req MembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	if len(req.Added) == 0 && len(req.Removed) == 0 {
		response.InvalidParams(c, "added 与 removed 不能同时为空")
		return
	}

	conv, err := h.convs.UpdateMembership(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.Added, req.Removed)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// UpdateInfo 管理员修改群资料
// PUT /api/v1/conversations/:id/info
func (h *ConversationHandler) UpdateInfo(c *gin.Context) {
	var req service.GroupInfo
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	conv, err := h.convs.UpdateInfo(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// Delete 删除会话及其消息
// DELETE /api/v1/conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.convs.DeleteConversation(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
