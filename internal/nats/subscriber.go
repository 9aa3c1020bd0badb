package nats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"hudhud.im.sync/internal/config"
	"hudhud.im.sync/internal/metrics"
)

// HandlerFunc 消息处理函数
type HandlerFunc func(ctx context.Context, data []byte)

// Subscriber 队列订阅 + Worker Pool
type Subscriber struct {
	nc           *nats.Conn
	subject      string
	queue        string
	handle       HandlerFunc
	logger       *slog.Logger
	subscription *nats.Subscription
	config       config.SubscriberConfig
	msgChan      chan *nats.Msg
	wg           sync.WaitGroup
	cancelFunc   context.CancelFunc
}

// NewSubscriber 创建订阅器
func NewSubscriber(nc *nats.Conn, subject, queue string, handle HandlerFunc, cfg config.SubscriberConfig) *Subscriber {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 100
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}

	return &Subscriber{
		nc:      nc,
		subject: subject,
		queue:   queue,
		handle:  handle,
		logger:  slog.Default(),
		config:  cfg,
	}
}

// Start 启动订阅
func (s *Subscriber) Start(ctx context.Context) error {
	s.msgChan = make(chan *nats.Msg, s.config.BufferSize)

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(workerCtx)
	}

	// 使用队列组实现多实例负载均衡
	sub, err := s.nc.QueueSubscribe(s.subject, s.queue, func(msg *nats.Msg) {
		current, capacity := s.GetBufferUsage()
		metrics.SubscriberBufferUsage.WithLabelValues(s.subject).Set(float64(current) / float64(capacity))
		select {
		case s.msgChan <- msg:
		default:
			s.logger.Warn("Message buffer full, dropping message", "subject", s.subject, "bufferSize", s.config.BufferSize)
		}
	})
	if err != nil {
		cancel()
		return err
	}

	s.subscription = sub
	s.logger.Info("NATS subscriber started",
		"subject", s.subject,
		"queue", s.queue,
		"workerCount", s.config.WorkerCount,
		"bufferSize", s.config.BufferSize,
	)
	return nil
}

// worker 工作协程
func (s *Subscriber) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.msgChan:
			if !ok {
				return
			}
			s.dispatch(ctx, msg.Data)
		}
	}
}

// dispatch 单条消息处理，panic 不影响其他消息
func (s *Subscriber) dispatch(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panic", "subject", s.subject, "panic", r)
		}
	}()
	s.handle(ctx, data)
}

// Stop 停止订阅
func (s *Subscriber) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe", "subject", s.subject, "error", err)
		}
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	s.wg.Wait()

	s.logger.Info("NATS subscriber stopped", "subject", s.subject)
	return nil
}

// GetBufferUsage 获取缓冲区使用情况（用于监控）
func (s *Subscriber) GetBufferUsage() (current int, capacity int) {
	if s.msgChan == nil {
		return 0, 0
	}
	return len(s.msgChan), cap(s.msgChan)
}
