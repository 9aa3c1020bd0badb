package model

import "time"

// EphemeralTTL 动态与通知的存活时长，创建时固定
const EphemeralTTL = 48 * time.Hour

// Post 48 小时限时动态
type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	Text         string    `json:"text,omitempty"`
	MediaRef     string    `json:"mediaRef,omitempty"`
	MediaKind    string    `json:"mediaKind,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Likes        []string  `json:"likes"`
	CommentCount int64     `json:"commentCount"`
	Archived     bool      `json:"archived,omitempty"`
}

// Expired 是否已过期
func (p *Post) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// CommentRef 评论回复引用快照
type CommentRef struct {
	CommentID  string `json:"commentId"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Text       string `json:"text"`
}

// Comment 动态评论，创建后不可编辑
type Comment struct {
	ID         string      `json:"id"`
	PostID     string      `json:"postId"`
	AuthorID   string      `json:"authorId"`
	AuthorName string      `json:"authorName"`
	Text       string      `json:"text"`
	CreatedAt  time.Time   `json:"createdAt"`
	ReplyTo    *CommentRef `json:"replyTo,omitempty"`
}

// NotificationKind 通知类型
type NotificationKind string

const (
	NotifyLike                      NotificationKind = "like"
	NotifyComment                   NotificationKind = "comment"
	NotifyCommentByOwnerOnOwnPost   NotificationKind = "comment_by_owner_on_own_post"
	NotifyCommentByOtherParticipant NotificationKind = "comment_by_other_participant"
	NotifyReply                     NotificationKind = "reply"
)

// Notification 互动通知
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipientId"`
	SenderID    string           `json:"senderId"`
	SenderName  string           `json:"senderName"`
	Kind        NotificationKind `json:"kind"`
	PostID      string           `json:"postId"`
	PreviewText string           `json:"previewText"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"createdAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}
