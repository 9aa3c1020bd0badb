package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"hudhud.im.sync/internal/api/middleware"
	"hudhud.im.sync/internal/model"
	"hudhud.im.sync/pkg/response"
)

// Settings 偏好设置，*service.SettingsService 满足该接口
type Settings interface {
	Load(ctx context.Context, uid string) (model.Settings, error)
	Update(ctx context.Context, uid string, patch model.SettingsPatch) (model.Settings, error)
}

// PushTokens 推送令牌，*push.Dispatcher 满足该接口
type PushTokens interface {
	RegisterToken(ctx context.Context, uid, token string) error
	UnregisterToken(ctx context.Context, uid, token string) error
}

// Presence 在线状态，*service.PresenceService 满足该接口
type Presence interface {
	SetPresence(ctx context.Context, uid string, online bool) error
	IsOnline(ctx context.Context, uid string) (bool, error)
}

// AccountHandler 设置、推送令牌与在线状态
type AccountHandler struct {
	settings Settings
	tokens   PushTokens
	presence Presence
}

// NewAccountHandler 创建处理器
func NewAccountHandler(settings Settings, tokens PushTokens, presence Presence) *AccountHandler {
	return &AccountHandler{settings: settings, tokens: tokens, presence: presence}
}

// PushTokenRequest 推送令牌
type PushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// PresenceRequest 在线状态
type PresenceRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// GetSettings 读取设置
// GET /api/v1/settings
func (h *AccountHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.Load(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, settings)
}

// UpdateSettings 部分更新设置
// PATCH /api/v1/settings
func (h *AccountHandler) UpdateSettings(c *gin.Context) {
	var patch model.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	settings, err := h.settings.Update(c.Request.Context(), middleware.GetUserID(c), patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, settings)
}

// RegisterPushToken 注册设备推送令牌
// POST /api/v1/push/tokens
func (h *AccountHandler) RegisterPushToken(c *gin.Context) {
	var req PushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	if err := h.tokens.RegisterToken(c.Request.Context(), middleware.GetUserID(c), req.Token); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// UnregisterPushToken 注销设备推送令牌
// DELETE /api/v1/push/tokens
func (h *AccountHandler) UnregisterPushToken(c *gin.Context) {
	var req PushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	if err := h.tokens.UnregisterToken(c.Request.Context(), middleware.GetUserID(c), req.Token); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// SetPresence 上线/离线
// PUT /api/v1/presence
func (h *AccountHandler) SetPresence(c *gin.Context) {
	var req PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}
	if err := h.presence.SetPresence(c.Request.Context(), middleware.GetUserID(c), *req.Online); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetPresence 查询某个参与者是否在线
// GET /api/v1/presence/:uid
func (h *AccountHandler) GetPresence(c *gin.Context) {
	online, err := h.presence.IsOnline(c.Request.Context(), c.Param("uid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"online": online})
}
