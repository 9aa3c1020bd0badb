package nats

import (
	"encoding/json"
	"log/slog"
	"time"

	"hudhud.im.sync/internal/proto"
)

// Conn 发布所需的最小连接接口，*nats.Conn 满足该接口
type Conn interface {
	Publish(subject string, data []byte) error
}

// EventPublisher 下行事件发布器
type EventPublisher struct {
	nc     Conn
	logger *slog.Logger
	now    func() time.Time
}

// NewEventPublisher 创建事件发布器
func NewEventPublisher(nc Conn) *EventPublisher {
	return &EventPublisher{
		nc:     nc,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// Publish 推送事件到参与者的订阅流
func (p *EventPublisher) Publish(event *proto.Event) error {
	if event.Timestamp == 0 {
		event.Timestamp = p.now().UnixMilli()
	}
	subject := BuildUserEventsSubject(event.UserId)
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", "type", event.Type, "error", err)
		return err
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish event", "userId", event.UserId, "type", event.Type, "error", err)
		return err
	}

	p.logger.Debug("Published event", "subject", subject, "type", event.Type)
	return nil
}

// PublishPush 发布推送请求
func (p *EventPublisher) PublishPush(req *proto.PushRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		p.logger.Error("Failed to marshal push request", "error", err)
		return err
	}
	if err := p.nc.Publish(SubjectPushNotification, data); err != nil {
		p.logger.Error("Failed to publish push request", "recipientId", req.RecipientId, "error", err)
		return err
	}
	return nil
}
