package model

import (
	"slices"
	"time"
)

// ConversationKind 会话类型
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct" // 私聊，恰好两名参与者
	ConversationGroup  ConversationKind = "group"  // 群聊
)

// Conversation 会话信息（存储在 Redis）
type Conversation struct {
	ID                 string           `json:"id"`
	Kind               ConversationKind `json:"kind"`
	Participants       []string         `json:"participants"`
	AdminIDs           []string         `json:"adminIds,omitempty"`
	Name               string           `json:"name,omitempty"`
	AvatarRef          string           `json:"avatarRef,omitempty"`
	Description        string           `json:"description,omitempty"`
	LastMessagePreview string           `json:"lastMessagePreview"`
	LastMessageKind    MessageKind      `json:"lastMessageKind,omitempty"`
	LastSenderID       string           `json:"lastSenderId,omitempty"`
	UnreadCounts       map[string]int64 `json:"unreadCounts"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// HasParticipant 判断是否为会话参与者
func (c *Conversation) HasParticipant(uid string) bool {
	return slices.Contains(c.Participants, uid)
}

// IsAdmin 判断是否为群管理员，私聊没有管理员
func (c *Conversation) IsAdmin(uid string) bool {
	return c.Kind == ConversationGroup && slices.Contains(c.AdminIDs, uid)
}

// Others 返回除 uid 之外的参与者
func (c *Conversation) Others(uid string) []string {
	others := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != uid {
			others = append(others, p)
		}
	}
	return others
}

// Peer 私聊中对方的ID
func (c *Conversation) Peer(uid string) string {
	if c.Kind != ConversationDirect {
		return ""
	}
	for _, p := range c.Participants {
		if p != uid {
			return p
		}
	}
	return ""
}

// UnreadFor 参与者的未读数
func (c *Conversation) UnreadFor(uid string) int64 {
	return c.UnreadCounts[uid]
}

// DirectPair 私聊参与者的规范化无序对
func DirectPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
