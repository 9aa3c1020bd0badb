package service

import (
	"context"
	"log/slog"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/model"
)

// SettingsService 参与者偏好设置，未保存过时使用配置中的默认值
type SettingsService struct {
	store    SettingsStore
	defaults model.Settings
	logger   *slog.Logger
}

// NewSettingsService 创建设置服务
func NewSettingsService(store SettingsStore, defaults model.Settings) *SettingsService {
	return &SettingsService{store: store, defaults: defaults, logger: slog.Default()}
}

// Load 读取设置
func (s *SettingsService) Load(ctx context.Context, uid string) (model.Settings, error) {
	settings, found, err := s.store.Load(ctx, uid)
	if err != nil {
		return model.Settings{}, err
	}
	if !found {
		return s.defaults, nil
	}
	return settings, nil
}

// Update 应用部分更新，只有发生变化时才写回
func (s *SettingsService) Update(ctx context.Context, uid string, patch model.SettingsPatch) (model.Settings, error) {
	if patch.FontSize != nil && (*patch.FontSize < 8 || *patch.FontSize > 48) {
		return model.Settings{}, apperrors.ErrInvalidParams.WithMessage("字号超出范围")
	}
	settings, err := s.Load(ctx, uid)
	if err != nil {
		return model.Settings{}, err
	}
	if !settings.Apply(patch) {
		return settings, nil
	}
	if err := s.store.Save(ctx, uid, settings); err != nil {
		return model.Settings{}, err
	}
	s.logger.Debug("Settings updated", "uid", uid)
	return settings, nil
}
