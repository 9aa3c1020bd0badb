package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Purger 过期清理的执行者，由 FeedService 实现
type Purger interface {
	PurgeExpired(ctx context.Context) (PurgeReport, error)
}

// SweepService 按 cron 表达式周期执行过期清理
type SweepService struct {
	purger  Purger
	cron    string
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewSweepService 创建清理服务
func NewSweepService(purger Purger, cron string) *SweepService {
	return &SweepService{purger: purger, cron: cron, logger: slog.Default()}
}

// RunOnce 立即执行一次，并发调用时后来者直接返回
func (s *SweepService) RunOnce(ctx context.Context) (PurgeReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return PurgeReport{}, nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	report, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("Sweep failed", "error", err)
		return report, err
	}
	s.logger.Info("Sweep finished", "posts", report.Posts, "notifications", report.Notifications, "elapsed", time.Since(start))
	return report, nil
}

// Start 启动调度循环
func (s *SweepService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("Sweep scheduler started", "cron", s.cron)
}

// Stop 停止调度循环
func (s *SweepService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SweepService) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next, err := gronx.NextTickAfter(s.cron, time.Now(), false)
		if err != nil {
			s.logger.Error("Failed to compute next sweep", "cron", s.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(time.Until(next)):
			_, _ = s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}
