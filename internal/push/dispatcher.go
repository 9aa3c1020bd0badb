package push

import (
	"context"
	"encoding/json"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"golang.org/x/time/rate"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/metrics"
	"hudhud.im.sync/internal/proto"
)

// Sender FCM 多设备发送，*messaging.Client 满足该接口
type Sender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// TokenStore 推送令牌存储，由 repository.PushTokenRepository 实现
type TokenStore interface {
	Add(ctx context.Context, uid, token string) error
	Remove(ctx context.Context, uid string, tokens ...string) error
	List(ctx context.Context, uid string) ([]string, error)
}

// Dispatcher 推送分发器，消费推送请求并通过 FCM 发送
type Dispatcher struct {
	sender  Sender
	tokens  TokenStore
	limiter *rate.Limiter
	isStale func(error) bool
	logger  *slog.Logger
}

// NewDispatcher 创建推送分发器，sender 为 nil 时只记录日志不发送
func NewDispatcher(sender Sender, tokens TokenStore, ratePerSecond float64, burst int) *Dispatcher {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		sender:  sender,
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, burst),
		isStale: messaging.IsUnregistered,
		logger:  slog.Default(),
	}
}

// RegisterToken 登记设备推送令牌
func (d *Dispatcher) RegisterToken(ctx context.Context, uid, token string) error {
	if token == "" {
		return apperrors.ErrInvalidParams.WithMessage("推送令牌不能为空")
	}
	return d.tokens.Add(ctx, uid, token)
}

// UnregisterToken 注销设备推送令牌
func (d *Dispatcher) UnregisterToken(ctx context.Context, uid, token string) error {
	return d.tokens.Remove(ctx, uid, token)
}

// Handle 作为推送主题的订阅处理函数
func (d *Dispatcher) Handle(ctx context.Context, data []byte) {
	var req proto.PushRequest
	if err := json.Unmarshal(data, &req); err != nil {
		d.logger.Error("Failed to unmarshal push request", "error", err)
		return
	}
	if err := d.Dispatch(ctx, &req); err != nil {
		d.logger.Warn("Push dispatch failed", "recipientId", req.RecipientId, "error", err)
	}
}

// Dispatch 向接收者的全部设备发送推送，并清理已失效的令牌
func (d *Dispatcher) Dispatch(ctx context.Context, req *proto.PushRequest) error {
	tokens, err := d.tokens.List(ctx, req.RecipientId)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		metrics.PushSent.WithLabelValues("no_token").Inc()
		return nil
	}
	if d.sender == nil {
		metrics.PushSent.WithLabelValues("disabled").Inc()
		d.logger.Debug("Push disabled, dropping", "recipientId", req.RecipientId)
		return nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := d.sender.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: req.Title,
			Body:  req.Body,
		},
		Data: req.Data,
	})
	if err != nil {
		metrics.PushSent.WithLabelValues("error").Add(float64(len(tokens)))
		return err
	}

	stale := make([]string, 0)
	for i, r := range resp.Responses {
		if r.Success {
			continue
		}
		if i < len(tokens) && r.Error != nil && d.isStale(r.Error) {
			stale = append(stale, tokens[i])
		}
	}
	metrics.PushSent.WithLabelValues("success").Add(float64(resp.SuccessCount))
	metrics.PushSent.WithLabelValues("failure").Add(float64(resp.FailureCount))

	if len(stale) > 0 {
		d.logger.Info("Pruning unregistered push tokens", "recipientId", req.RecipientId, "count", len(stale))
		if err := d.tokens.Remove(ctx, req.RecipientId, stale...); err != nil {
			d.logger.Warn("Failed to prune push tokens", "recipientId", req.RecipientId, "error", err)
		}
	}
	return nil
}
