package proto

import (
	"encoding/json"

	"hudhud.im.sync/internal/model"
)

// ============== 上行命令 (客户端网关 -> 同步核心) ==============

// UpstreamCommand 上行命令封装，Payload 中只有一个字段非空
type UpstreamCommand struct {
	UserId    string         `json:"UserId"`
	RequestId string         `json:"RequestId,omitempty"`
	Payload   CommandPayload `json:"Payload"`
}

// CommandPayload 上行命令载荷
type CommandPayload struct {
	Send       *SendCommand       `json:"Send,omitempty"`
	Observe    *ObserveCommand    `json:"Observe,omitempty"`
	Open       *OpenCommand       `json:"Open,omitempty"`
	ToggleLike *ToggleLikeCommand `json:"ToggleLike,omitempty"`
	AddComment *AddCommentCommand `json:"AddComment,omitempty"`
	Presence   *PresenceCommand   `json:"Presence,omitempty"`
	Typing     *TypingCommand     `json:"Typing,omitempty"`
}

// SendCommand 发送消息
type SendCommand struct {
	ConversationId string            `json:"ConversationId"`
	ClientMsgId    string            `json:"ClientMsgId,omitempty"`
	Kind           model.MessageKind `json:"Kind"`
	Body           json.RawMessage   `json:"Body"`
	ReplyToId      string            `json:"ReplyToId,omitempty"`
}

// ObserveCommand 消息进入可视区域（被动已读）
type ObserveCommand struct {
	ConversationId string   `json:"ConversationId"`
	MessageIds     []string `json:"MessageIds"`
}

// OpenCommand 打开会话
type OpenCommand struct {
	ConversationId string `json:"ConversationId"`
}

// ToggleLikeCommand 点赞/取消点赞
type ToggleLikeCommand struct {
	PostId string `json:"PostId"`
}

// AddCommentCommand 评论动态
type AddCommentCommand struct {
	PostId         string `json:"PostId"`
	Text           string `json:"Text"`
	ReplyCommentId string `json:"ReplyCommentId,omitempty"`
}

// PresenceCommand 在线/离线
type PresenceCommand struct {
	Online bool `json:"Online"`
}

// TypingCommand 正在输入/停止输入
type TypingCommand struct {
	ConversationId string `json:"ConversationId"`
	Typing         bool   `json:"Typing"`
}

// ============== 下行事件 (同步核心 -> 订阅者) ==============

// EventType 下行事件类型
type EventType string

const (
	EventMessageCreated      EventType = "message.created"
	EventMessageEdited       EventType = "message.edited"
	EventMessageDeleted      EventType = "message.deleted"
	EventMessageRead         EventType = "message.read"
	EventMessagePending      EventType = "message.pending"
	EventMessageFailed       EventType = "message.failed"
	EventConversationUpdated EventType = "conversation.updated"
	EventConversationRemoved EventType = "conversation.removed"
	EventUnreadUpdated       EventType = "unread.updated"
	EventTypingUpdated       EventType = "typing.updated"
	EventNotificationCreated EventType = "notification.created"
	EventCommandRejected     EventType = "command.rejected"
)

// Event 推送给单个参与者的下行事件
type Event struct {
	Type           EventType           `json:"Type"`
	UserId         string              `json:"UserId"`
	ConversationId string              `json:"ConversationId,omitempty"`
	Message        *model.Message      `json:"Message,omitempty"`
	MessageIds     []string            `json:"MessageIds,omitempty"`
	ReaderId       string              `json:"ReaderId,omitempty"`
	Conversation   *model.Conversation `json:"Conversation,omitempty"`
	UnreadCount    *int64              `json:"UnreadCount,omitempty"`
	Notification   *model.Notification `json:"Notification,omitempty"`
	Typing         *TypingState        `json:"Typing,omitempty"`
	RequestId      string              `json:"RequestId,omitempty"`
	ErrorCode      int                 `json:"ErrorCode,omitempty"`
	ErrorMessage   string              `json:"ErrorMessage,omitempty"`
	Timestamp      int64               `json:"Timestamp"`
}

// TypingState 会话中某个参与者的输入状态
type TypingState struct {
	UserId string `json:"UserId"`
	Typing bool   `json:"Typing"`
}

// PushRequest 推送请求，由推送分发器消费
type PushRequest struct {
	RecipientId string            `json:"RecipientId"`
	Title       string            `json:"Title"`
	Body        string            `json:"Body"`
	Data        map[string]string `json:"Data,omitempty"`
}
