package service

import (
	"context"
	"io"
	"time"

	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/proto"
	"hudhud.im.sync/internal/task"
)

// ConversationStore 会话注册表存储，由 repository.ConversationRepository 实现
type ConversationStore interface {
	CreateDirect(ctx context.Context, conv *model.Conversation) error
	FindDirect(ctx context.Context, a, b string) (*model.Conversation, error)
	CreateGroup(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, convID string) (*model.Conversation, error)
	ApplyMessage(ctx context.Context, msg *model.Message) (bool, error)
	IncrementUnread(ctx context.Context, convID, except string) error
	ZeroUnread(ctx context.Context, convID, uid string) error
	AddMembers(ctx context.Context, convID string, uids []string, at time.Time) error
	RemoveMembers(ctx context.Context, convID string, uids []string, at time.Time) error
	UpdateInfo(ctx context.Context, convID, name, avatar, description string) error
	Delete(ctx context.Context, conv *model.Conversation) error
	ListForUser(ctx context.Context, uid string, offset, limit int64) ([]*model.Conversation, error)
	TotalUnread(ctx context.Context, uid string) (int64, error)
}

// MessageStore 消息日志存储，由 repository.MessageRepository 实现
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) (bool, error)
	Get(ctx context.Context, convID, msgID string) (*model.Message, error)
	List(ctx context.Context, convID string, since *time.Time, limit int) ([]*model.Message, error)
	MarkRead(ctx context.Context, convID, reader string, msgIDs []string) ([]string, error)
	MarkAllRead(ctx context.Context, convID, reader string) ([]string, error)
	UpdateText(ctx context.Context, convID, msgID, text string, editedAt time.Time) error
	Delete(ctx context.Context, convID string, msgIDs []string) (int64, error)
	DeleteConversation(ctx context.Context, convID string) error
	DeleteBySenderBefore(ctx context.Context, senderID string, cutoff time.Time) (int64, error)
}

// PostStore 动态存储，由 repository.PostRepository 实现
type PostStore interface {
	Create(ctx context.Context, post *model.Post) error
	Get(ctx context.Context, postID string) (*model.Post, error)
	ListActive(ctx context.Context, now time.Time) ([]*model.Post, error)
	ListArchived(ctx context.Context, now time.Time) ([]*model.Post, error)
	Archive(ctx context.Context, postID, actor string, at time.Time) error
	Restore(ctx context.Context, postID string) error
	Delete(ctx context.Context, postID string) error
	AddComment(ctx context.Context, comment *model.Comment) ([]string, error)
	GetComment(ctx context.Context, postID, commentID string) (*model.Comment, error)
	ListComments(ctx context.Context, postID string) ([]*model.Comment, error)
	PurgeExpired(ctx context.Context, now time.Time) ([]string, error)
}

// NotificationStore 通知存储
type NotificationStore interface {
	InsertBatch(ctx context.Context, notifications []*model.Notification) error
	ListForRecipient(ctx context.Context, recipientID string, now time.Time, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, recipientID, notificationID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// LikeStore 点赞集合
type LikeStore interface {
	Toggle(ctx context.Context, postID, uid string) (bool, error)
	Likers(ctx context.Context, postID string) ([]string, error)
	LikersMany(ctx context.Context, postIDs []string) (map[string][]string, error)
	DeleteAll(ctx context.Context, postIDs ...string) error
}

// PresenceStore 在线状态
type PresenceStore interface {
	SetOnline(ctx context.Context, uid string) error
	SetOffline(ctx context.Context, uid string) error
	IsOnline(ctx context.Context, uid string) (bool, error)
}

// SettingsStore 偏好设置存储
type SettingsStore interface {
	Load(ctx context.Context, uid string) (model.Settings, bool, error)
	Save(ctx context.Context, uid string, s model.Settings) error
}

// Publisher 下行事件与推送请求发布
type Publisher interface {
	Publish(event *proto.Event) error
	PublishPush(req *proto.PushRequest) error
}

// BlobStore 对象存储
type BlobStore interface {
	Upload(ctx context.Context, owner, name, contentType string, r io.Reader) (string, error)
}

// SnapshotCache 最近一次成功读取的会话列表与消息时间线
type SnapshotCache interface {
	PutConversations(uid string, convs []*model.Conversation) error
	Conversations(uid string) ([]*model.Conversation, error)
	PutMessages(convID string, msgs []*model.Message) error
	Messages(convID string) ([]*model.Message, error)
	MergeMessages(convID string, msgs ...*model.Message) error
	RemoveMessages(convID string, ids ...string) error
	DeleteConversation(convID string) error
}

// RetryScheduler 延迟重试调度
type RetryScheduler interface {
	AddTask(t *task.Task) error
}

// IDGenerator 服务端ID生成
type IDGenerator interface {
	NextString() string
}
