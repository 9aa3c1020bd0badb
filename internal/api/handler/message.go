package handler

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hudhud.im.sync/internal/api/middleware"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/readstate"
	"hudhud.im.sync/internal/service"
	"hudhud.im.sync/pkg/response"
)

// Messages 消息收发，*service.MessageService 满足该接口
type Messages interface {
	Send(ctx context.Context, req service.SendRequest) (*service.SendResult, error)
	SendMedia(ctx context.Context, req service.SendRequest, upload service.MediaUpload) (*service.SendResult, error)
	CreateDirectAndSend(ctx context.Context, sender, recipient string, body model.Body, clientMsgID string) (*service.SendResult, error)
	List(ctx context.Context, convID, reader string, since *time.Time, limit int) (*service.Timeline, error)
	MarkObserved(ctx context.Context, convID, reader string, msgIDs []string) ([]string, error)
	Open(ctx context.Context, convID, reader string) ([]string, error)
	SetTyping(ctx context.Context, convID, uid string, typing bool) error
	Edit(ctx context.Context, convID, msgID, actor, text string) (*model.Message, error)
	Delete(ctx context.Context, convID, msgID, actor string) error
	BulkDelete(ctx context.Context, convID, actor string, msgIDs []string) (int64, error)
	Receipts(ctx context.Context, convID, msgID, viewer string) (readstate.Receipt, error)
}

// MessageHandler 消息处理器
type MessageHandler struct {
	messages Messages
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(messages Messages) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// SendMessageRequest 发送消息请求，Body 的结构由 Kind 决定
type SendMessageRequest struct {
	ClientMsgID string            `json:"clientMsgId"`
	Kind        model.MessageKind `json:"kind" binding:"required"`
	Body        json.RawMessage   `json:"body" binding:"required"`
	ReplyToID   string            `json:"replyToId"`
}

// MessageIDsRequest 批量消息ID
type MessageIDsRequest struct {
	MessageIDs []string `json:"messageIds" binding:"required"`
}

// TypingRequest 输入状态
type TypingRequest struct {
	Typing bool `json:"typing"`
}

// EditRequest 编辑文本消息
type EditRequest struct {
	Text string `json:"text" binding:"required"`
}

// Send 发送消息，存储暂不可用时返回 202 并进入重试
// POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	body, err := model.DecodeBody(req.Kind, req.Body)
	if err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	result, err := h.messages.Send(c.Request.Context(), service.SendRequest{
		ConversationID: c.Param("id"),
		SenderID:       middleware.GetUserID(c),
		ClientMsgID:    req.ClientMsgID,
		Body:           body,
		ReplyToID:      req.ReplyToID,
	})
	writeSendResult(c, result, err)
}

// SendMedia 上传图片/语音/文件并发送
// POST /api/v1/conversations/:id/media (multipart: file, kind, caption, duration, clientMsgId, replyToId)
func (h *MessageHandler) SendMedia(c *gin.Context) {
	upload, closeFn, err := readUpload(c)
	if err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	defer closeFn()

	result, err := h.messages.SendMedia(c.Request.Context(), service.SendRequest{
		ConversationID: c.Param("id"),
		SenderID:       middleware.GetUserID(c),
		ClientMsgID:    c.PostForm("clientMsgId"),
		ReplyToID:      c.PostForm("replyToId"),
	}, upload)
	writeSendResult(c, result, err)
}

// SendDirect 给对方发消息，没有私聊时先创建
// POST /api/v1/direct/:peerId/messages
func (h *MessageHandler) SendDirect(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	body, err := model.DecodeBody(req.Kind, req.Body)
	if err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	result, err := h.messages.CreateDirectAndSend(c.Request.Context(), middleware.GetUserID(c), c.Param("peerId"), body, req.ClientMsgID)
	writeSendResult(c, result, err)
}

func writeSendResult(c *gin.Context, result *service.SendResult, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Pending {
		response.Accepted(c, result)
		return
	}
	response.Success(c, result)
}

// List 消息时间线
// GET /api/v1/conversations/:id/messages?since=<unix ms>&limit=100
func (h *MessageHandler) List(c *gin.Context) {
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.InvalidParams(c, "since 必须是毫秒时间戳")
			return
		}
		t := time.UnixMilli(ms).UTC()
		since = &t
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	timeline, err := h.messages.List(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), since, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, timeline)
}

// Observe 消息进入可视区域
// POST /api/v1/conversations/:id/observe
func (h *MessageHandler) Observe(c *gin.Context) {
	var req MessageIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	changed, err := h.messages.MarkObserved(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.MessageIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"read": changed})
}

// Open 打开会话，未读清零
// POST /api/v1/conversations/:id/open
func (h *MessageHandler) Open(c *gin.Context) {
	changed, err := h.messages.Open(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"read": changed})
}

// Typing 广播输入状态
// POST /api/v1/conversations/:id/typing
func (h *MessageHandler) Typing(c *gin.Context) {
	var req TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	if err := h.messages.SetTyping(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.Typing); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Edit 编辑自己的文本消息
// PUT /api/v1/conversations/:id/messages/:msgId
func (h *MessageHandler) Edit(c *gin.Context) {
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), c.Param("id"), c.Param("msgId"), middleware.GetUserID(c), req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}

// Delete 删除单条消息
// DELETE /api/v1/conversations/:id/messages/:msgId
func (h *MessageHandler) Delete(c *gin.Context) {
	if err := h.messages.Delete(c.Request.Context(), c.Param("id"), c.Param("msgId"), middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// BulkDelete 批量删除
// POST /api/v1/conversations/:id/messages/delete
func (h *MessageHandler) BulkDelete(c *gin.Context) {
	var req MessageIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	n, err := h.messages.BulkDelete(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), req.MessageIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": n})
}

// Receipts 已读回执
// GET /api/v1/conversations/:id/messages/:msgId/receipts
func (h *MessageHandler) Receipts(c *gin.Context) {
	receipt, err := h.messages.Receipts(c.Request.Context(), c.Param("id"), c.Param("msgId"), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, receipt)
}
