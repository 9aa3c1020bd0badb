package service

import (
	"context"
	"log/slog"
	"time"
)

// PresenceService 在线状态，上线时可顺带清理本人过期的消息
type PresenceService struct {
	presence  PresenceStore
	messages  *MessageService
	purge     bool
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewPresenceService 创建在线状态服务，purge 为 true 时上线会删除本人超过 retention 的消息
func NewPresenceService(presence PresenceStore, messages *MessageService, purge bool, retention time.Duration) *PresenceService {
	return &PresenceService{
		presence:  presence,
		messages:  messages,
		purge:     purge,
		retention: retention,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SetPresence 设置在线/离线
func (s *PresenceService) SetPresence(ctx context.Context, uid string, online bool) error {
	if !online {
		return s.presence.SetOffline(ctx, uid)
	}
	if err := s.presence.SetOnline(ctx, uid); err != nil {
		return err
	}
	if s.purge && s.retention > 0 && s.messages != nil {
		if _, err := s.messages.PurgeSenderMessagesOlderThan(ctx, uid, s.now().Add(-s.retention)); err != nil {
			s.logger.Warn("Failed to purge old messages on presence", "uid", uid, "error", err)
		}
	}
	return nil
}

// IsOnline 查询在线状态
func (s *PresenceService) IsOnline(ctx context.Context, uid string) (bool, error) {
	return s.presence.IsOnline(ctx, uid)
}
