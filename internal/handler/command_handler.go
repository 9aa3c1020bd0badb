package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/proto"
	"hudhud.im.sync/internal/service"
)

// Messenger 消息收发
type Messenger interface {
	Send(ctx context.Context, req service.SendRequest) (*service.SendResult, error)
	MarkObserved(ctx context.Context, convID, reader string, msgIDs []string) ([]string, error)
	Open(ctx context.Context, convID, reader string) ([]string, error)
	SetTyping(ctx context.Context, convID, uid string, typing bool) error
}

// Feed 动态互动
type Feed interface {
	ToggleLike(ctx context.Context, postID, uid, name string) (bool, error)
	AddComment(ctx context.Context, req service.CommentRequest) (*model.Comment, error)
}

// Presence 在线状态
type Presence interface {
	SetPresence(ctx context.Context, uid string, online bool) error
}

// Rejecter 命令被拒绝时通知发起者
type Rejecter interface {
	Publish(event *proto.Event) error
}

// CommandHandler 上行命令处理器
type CommandHandler struct {
	messages  Messenger
	feed      Feed
	presence  Presence
	publisher Rejecter
	logger    *slog.Logger
}

// NewCommandHandler 创建上行命令处理器
func NewCommandHandler(messages Messenger, feed Feed, presence Presence, publisher Rejecter) *CommandHandler {
	return &CommandHandler{
		messages:  messages,
		feed:      feed,
		presence:  presence,
		publisher: publisher,
		logger:    slog.Default(),
	}
}

// Handle 处理一条上行命令，可直接作为 nats.HandlerFunc 使用
func (h *CommandHandler) Handle(ctx context.Context, data []byte) {
	var cmd proto.UpstreamCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.logger.Error("Failed to unmarshal upstream command", "error", err)
		return
	}
	if cmd.UserId == "" {
		h.logger.Warn("Upstream command without user id", "requestId", cmd.RequestId)
		return
	}

	if err := h.dispatch(ctx, &cmd); err != nil {
		h.reject(&cmd, err)
	}
}

func (h *CommandHandler) dispatch(ctx context.Context, cmd *proto.UpstreamCommand) error {
	p := cmd.Payload
	switch {
	case p.Send != nil:
		return h.handleSend(ctx, cmd.UserId, cmd.RequestId, p.Send)

	case p.Observe != nil:
		_, err := h.messages.MarkObserved(ctx, p.Observe.ConversationId, cmd.UserId, p.Observe.MessageIds)
		return err

	case p.Open != nil:
		_, err := h.messages.Open(ctx, p.Open.ConversationId, cmd.UserId)
		return err

	case p.ToggleLike != nil:
		_, err := h.feed.ToggleLike(ctx, p.ToggleLike.PostId, cmd.UserId, cmd.UserId)
		return err

	case p.AddComment != nil:
		_, err := h.feed.AddComment(ctx, service.CommentRequest{
			PostID:         p.AddComment.PostId,
			AuthorID:       cmd.UserId,
			AuthorName:     cmd.UserId,
			Text:           p.AddComment.Text,
			ReplyCommentID: p.AddComment.ReplyCommentId,
		})
		return err

	case p.Presence != nil:
		return h.presence.SetPresence(ctx, cmd.UserId, p.Presence.Online)

	case p.Typing != nil:
		return h.messages.SetTyping(ctx, p.Typing.ConversationId, cmd.UserId, p.Typing.Typing)

	default:
		h.logger.Warn("Unknown upstream command", "userId", cmd.UserId, "requestId", cmd.RequestId)
		return apperrors.ErrInvalidParams.WithMessage("未知命令")
	}
}

func (h *CommandHandler) handleSend(ctx context.Context, uid, requestID string, cmd *proto.SendCommand) error {
	body, err := model.DecodeBody(cmd.Kind, cmd.Body)
	if err != nil {
		return apperrors.ErrInvalidParams.Wrap(err)
	}

	res, err := h.messages.Send(ctx, service.SendRequest{
		ConversationID: cmd.ConversationId,
		SenderID:       uid,
		ClientMsgID:    cmd.ClientMsgId,
		Body:           body,
		ReplyToID:      cmd.ReplyToId,
		RequestID:      requestID,
	})
	if err != nil {
		return err
	}
	h.logger.Debug("Send handled", "userId", uid, "messageId", res.Message.ID, "pending", res.Pending)
	return nil
}

// reject 通知发起者命令失败，客户端据此回滚乐观更新
func (h *CommandHandler) reject(cmd *proto.UpstreamCommand, err error) {
	h.logger.Warn("Upstream command rejected", "userId", cmd.UserId, "requestId", cmd.RequestId, "error", err)
	if h.publisher == nil {
		return
	}
	event := &proto.Event{
		Type:         proto.EventCommandRejected,
		UserId:       cmd.UserId,
		RequestId:    cmd.RequestId,
		ErrorCode:    apperrors.GetCode(err),
		ErrorMessage: apperrors.GetMessage(err),
	}
	if cmd.Payload.Send != nil {
		event.ConversationId = cmd.Payload.Send.ConversationId
		if cmd.Payload.Send.ClientMsgId != "" {
			event.MessageIds = []string{cmd.Payload.Send.ClientMsgId}
		}
	}
	if pubErr := h.publisher.Publish(event); pubErr != nil {
		h.logger.Error("Failed to publish rejection", "userId", cmd.UserId, "error", pubErr)
	}
}
