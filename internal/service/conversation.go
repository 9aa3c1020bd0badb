package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/metrics"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/internal/proto"
)

// ConversationService 会话注册表服务
type ConversationService struct {
	convs     ConversationStore
	messages  MessageStore
	publisher Publisher
	cache     SnapshotCache
	ids       IDGenerator
	logger    *slog.Logger
	now       func() time.Time
}

// NewConversationService 创建会话服务，cache 可以为 nil
func NewConversationService(convs ConversationStore, messages MessageStore, publisher Publisher, cache SnapshotCache, ids IDGenerator) *ConversationService {
	return &ConversationService{
		convs:     convs,
		messages:  messages,
		publisher: publisher,
		cache:     cache,
		ids:       ids,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// GroupInfo 创建或编辑群资料
type GroupInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AvatarRef   string `json:"avatarRef"`
}

// CreateDirect 创建私聊，同一对参与者已有私聊时返回 AlreadyExists
func (s *ConversationService) CreateDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	if a == "" || b == "" || a == b {
		return nil, apperrors.ErrInvalidParams.WithMessage("私聊需要两名不同的参与者")
	}

	now := s.now()
	first, second := model.DirectPair(a, b)
	conv := &model.Conversation{
		ID:           s.ids.NextString(),
		Kind:         model.ConversationDirect,
		Participants: []string{first, second},
		UnreadCounts: map[string]int64{first: 0, second: 0},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.convs.CreateDirect(ctx, conv); err != nil {
		return nil, err
	}

	s.logger.Info("Direct conversation created", "conversationId", conv.ID, "a", first, "b", second)
	s.publishConversation(conv)
	return conv, nil
}

// FindDirect 查找两人之间的私聊
func (s *ConversationService) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	return s.convs.FindDirect(ctx, a, b)
}

// FindOrCreateDirect 先查再建，创建竞争失败时重新查询胜出方的会话
func (s *ConversationService) FindOrCreateDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	conv, err := s.convs.FindDirect(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	conv, err = s.CreateDirect(ctx, a, b)
	if apperrors.Is(err, apperrors.ErrAlreadyExists) {
		s.logger.Debug("Lost direct conversation race, re-querying", "a", a, "b", b)
		return s.convs.FindDirect(ctx, a, b)
	}
	return conv, err
}

// CreateGroup 创建群聊，创建者是唯一的初始管理员
func (s *ConversationService) CreateGroup(ctx context.Context, creator string, members []string, info GroupInfo) (*model.Conversation, error) {
	if creator == "" {
		return nil, apperrors.ErrInvalidParams
	}
	if strings.TrimSpace(info.Name) == "" {
		return nil, apperrors.ErrInvalidParams.WithMessage("群名称不能为空")
	}

	participants := uniqueIDs(append([]string{creator}, members...))
	unread := make(map[string]int64, len(participants))
	for _, p := range participants {
		unread[p] = 0
	}

	now := s.now()
	conv := &model.Conversation{
		ID:           s.ids.NextString(),
		Kind:         model.ConversationGroup,
		Participants: participants,
		AdminIDs:     []string{creator},
		Name:         info.Name,
		AvatarRef:    info.AvatarRef,
		Description:  info.Description,
		UnreadCounts: unread,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.convs.CreateGroup(ctx, conv); err != nil {
		return nil, err
	}

	s.logger.Info("Group created", "conversationId", conv.ID, "creator", creator, "members", len(participants))
	s.publishConversation(conv)
	return conv, nil
}

// Get 获取会话，调用者必须是参与者
func (s *ConversationService) Get(ctx context.Context, convID, uid string) (*model.Conversation, error) {
	conv, err := s.convs.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(uid) {
		return nil, apperrors.ErrNotAParticipant
	}
	return conv, nil
}

// UpdateMembership 管理员增删群成员，并写入系统消息摘要
func (s *ConversationService) UpdateMembership(ctx context.Context, convID, actor string, added, removed []string) (*model.Conversation, error) {
	conv, err := s.requireGroupAdmin(ctx, convID, actor)
	if err != nil {
		return nil, err
	}

	toAdd := make([]string, 0, len(added))
	for _, uid := range uniqueIDs(added) {
		if !conv.HasParticipant(uid) {
			toAdd = append(toAdd, uid)
		}
	}
	toRemove := make([]string, 0, len(removed))
	for _, uid := range uniqueIDs(removed) {
		if conv.HasParticipant(uid) && !slices.Contains(toAdd, uid) {
			toRemove = append(toRemove, uid)
		}
	}
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return conv, nil
	}

	now := s.now()
	if err := s.convs.AddMembers(ctx, convID, toAdd, now); err != nil {
		return nil, err
	}
	if err := s.convs.RemoveMembers(ctx, convID, toRemove, now); err != nil {
		return nil, err
	}

	updated, err := s.convs.Get(ctx, convID)
	if err != nil {
		return nil, err
	}

	if len(toAdd) > 0 {
		s.appendSystemLine(ctx, updated, now, fmt.Sprintf("%s added %s", actor, strings.Join(toAdd, ", ")))
	}
	if len(toRemove) > 0 {
		s.appendSystemLine(ctx, updated, now.Add(time.Millisecond), fmt.Sprintf("%s removed %s", actor, strings.Join(toRemove, ", ")))
	}

	s.logger.Info("Group membership updated", "conversationId", convID, "actor", actor, "added", toAdd, "removed", toRemove)
	s.publishConversation(updated)
	s.publishRemoved(convID, toRemove)
	return updated, nil
}

// UpdateInfo 管理员修改群资料，空字段保持不变
func (s *ConversationService) UpdateInfo(ctx context.Context, convID, actor string, info GroupInfo) (*model.Conversation, error) {
	if _, err := s.requireGroupAdmin(ctx, convID, actor); err != nil {
		return nil, err
	}
	if err := s.convs.UpdateInfo(ctx, convID, info.Name, info.AvatarRef, info.Description); err != nil {
		return nil, err
	}
	updated, err := s.convs.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	s.publishConversation(updated)
	return updated, nil
}

// IncrementUnread 除 except 外的参与者未读数 +1
func (s *ConversationService) IncrementUnread(ctx context.Context, convID, except string) error {
	return s.convs.IncrementUnread(ctx, convID, except)
}

// ZeroUnread 清零参与者未读数并通知其各端
func (s *ConversationService) ZeroUnread(ctx context.Context, convID, uid string) error {
	if err := s.convs.ZeroUnread(ctx, convID, uid); err != nil {
		return err
	}
	zero := int64(0)
	s.publish(&proto.Event{Type: proto.EventUnreadUpdated, UserId: uid, ConversationId: convID, UnreadCount: &zero})
	return nil
}

// DeleteConversation 删除会话
// 私聊任一方删除即级联删除；群管理员删除级联，普通成员删除等同退群
func (s *ConversationService) DeleteConversation(ctx context.Context, convID, actor string) error {
	conv, err := s.Get(ctx, convID, actor)
	if err != nil {
		return err
	}

	if conv.Kind == model.ConversationGroup && !conv.IsAdmin(actor) {
		now := s.now()
		if err := s.convs.RemoveMembers(ctx, convID, []string{actor}, now); err != nil {
			return err
		}
		conv.Participants = conv.Others(actor)
		s.appendSystemLine(ctx, conv, now, fmt.Sprintf("%s left", actor))
		s.logger.Info("Participant left group", "conversationId", convID, "uid", actor)
		s.publishRemoved(convID, []string{actor})
		if updated, err := s.convs.Get(ctx, convID); err == nil {
			s.publishConversation(updated)
		}
		return nil
	}

	if err := s.messages.DeleteConversation(ctx, convID); err != nil {
		return err
	}
	if err := s.convs.Delete(ctx, conv); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.DeleteConversation(convID); err != nil {
			s.logger.Warn("Failed to drop cached timeline", "conversationId", convID, "error", err)
		}
	}

	s.logger.Info("Conversation deleted", "conversationId", convID, "actor", actor, "kind", conv.Kind)
	s.publishRemoved(convID, conv.Participants)
	return nil
}

// List 参与者的会话列表，存储不可用时退回最近一次的快照
func (s *ConversationService) List(ctx context.Context, uid string, offset, limit int64) ([]*model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	convs, err := s.convs.ListForUser(ctx, uid, offset, limit)
	if err != nil {
		if s.cache != nil && offset == 0 && apperrors.IsRetryable(err) {
			if cached, cacheErr := s.cache.Conversations(uid); cacheErr == nil {
				metrics.CacheFallbacks.WithLabelValues("conversations").Inc()
				s.logger.Warn("Serving cached conversation list", "uid", uid, "error", err)
				return cached, nil
			}
		}
		return nil, err
	}

	if s.cache != nil && offset == 0 {
		if err := s.cache.PutConversations(uid, convs); err != nil {
			s.logger.Warn("Failed to cache conversation list", "uid", uid, "error", err)
		}
	}
	return convs, nil
}

// TotalUnread 参与者所有会话的未读总数
func (s *ConversationService) TotalUnread(ctx context.Context, uid string) (int64, error) {
	return s.convs.TotalUnread(ctx, uid)
}

func (s *ConversationService) requireGroupAdmin(ctx context.Context, convID, actor string) (*model.Conversation, error) {
	conv, err := s.Get(ctx, convID, actor)
	if err != nil {
		return nil, err
	}
	if conv.Kind != model.ConversationGroup {
		return nil, apperrors.ErrInvalidParams.WithMessage("仅群聊支持该操作")
	}
	if !conv.IsAdmin(actor) {
		return nil, apperrors.ErrNotAuthorized
	}
	return conv, nil
}

// appendSystemLine 写入系统消息，只进入消息日志，不影响预览与未读计数
func (s *ConversationService) appendSystemLine(ctx context.Context, conv *model.Conversation, at time.Time, text string) {
	msg := &model.Message{
		ID:             s.ids.NextString(),
		ConversationID: conv.ID,
		SenderID:       model.SystemSenderID,
		Body:           model.TextBody{Text: text},
		CreatedAt:      at,
	}
	if _, err := s.messages.Insert(ctx, msg); err != nil {
		s.logger.Error("Failed to append system line", "conversationId", conv.ID, "error", err)
		return
	}
	for _, p := range conv.Participants {
		s.publish(&proto.Event{Type: proto.EventMessageCreated, UserId: p, ConversationId: conv.ID, Message: msg})
	}
}

func (s *ConversationService) publishConversation(conv *model.Conversation) {
	for _, p := range conv.Participants {
		s.publish(&proto.Event{Type: proto.EventConversationUpdated, UserId: p, ConversationId: conv.ID, Conversation: conv})
	}
}

func (s *ConversationService) publishRemoved(convID string, uids []string) {
	for _, uid := range uids {
		s.publish(&proto.Event{Type: proto.EventConversationRemoved, UserId: uid, ConversationId: convID})
	}
}

func (s *ConversationService) publish(event *proto.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(event); err != nil {
		s.logger.Warn("Failed to publish event", "type", event.Type, "userId", event.UserId, "error", err)
	}
}

// uniqueIDs 去重并去掉空值，保持首次出现的顺序
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
