package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped 调度器停止时仍未执行完的任务以此错误放弃
var ErrStopped = errors.New("调度器已停止")

// Scheduler 延迟重试调度器：时间轮负责计时，工作池负责执行
type Scheduler struct {
	wheel      *TimeWheel
	workerPool *WorkerPool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
	running    bool
	runningMu  sync.RWMutex
}

// NewScheduler 创建调度器，时间轮每秒推进一格
func NewScheduler(workerCount int) *Scheduler {
	return newScheduler(workerCount, time.Second)
}

func newScheduler(workerCount int, tick time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		wheel:  NewTimeWheel(tick),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
	s.workerPool = NewWorkerPool(workerCount, s.onResult)
	return s
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return fmt.Errorf("调度器已经在运行中")
	}
	s.running = true
	s.runningMu.Unlock()

	s.workerPool.Start()

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("任务调度器已启动")
	return nil
}

// tickLoop 时钟循环协程
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := s.wheel.GetTicker()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if tasks := s.wheel.Tick(); len(tasks) > 0 {
				s.workerPool.SubmitBatch(tasks)
			}
		}
	}
}

// onResult 失败且仍有次数时按退避重新入轮，否则触发最终失败回调
func (s *Scheduler) onResult(task *Task, err error) {
	if err == nil {
		return
	}
	if task.CanRetry() && s.IsRunning() {
		task.Attempt++
		task.Delay = Backoff(task.Attempt)
		s.logger.Debug("任务重新调度", "taskID", task.ID, "attempt", task.Attempt, "delay", task.Delay)
		s.wheel.AddTask(task)
		return
	}
	if task.OnGiveUp != nil {
		task.OnGiveUp(err)
	}
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.wheel.Stop()
	s.workerPool.Stop()

	// 剩余任务不会再执行，逐个触发最终失败回调
	pending := append(s.wheel.Drain(), s.workerPool.Drain()...)
	for _, task := range pending {
		if task.OnGiveUp != nil {
			task.OnGiveUp(ErrStopped)
		}
	}

	s.logger.Info("任务调度器已停止", "abandoned", len(pending))
}

// AddTask 添加任务
func (s *Scheduler) AddTask(task *Task) error {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running {
		return fmt.Errorf("调度器未运行")
	}
	if task == nil {
		return fmt.Errorf("任务不能为空")
	}
	if task.ID == "" {
		return fmt.Errorf("任务ID不能为空")
	}

	s.wheel.AddTask(task)
	return nil
}

// RemoveTask 取消任务
func (s *Scheduler) RemoveTask(taskID string) error {
	if !s.wheel.RemoveTask(taskID) {
		return fmt.Errorf("任务不存在: %s", taskID)
	}
	return nil
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	return s.running
}

// GetStats 获取调度器统计信息
func (s *Scheduler) GetStats() map[string]any {
	return map[string]any{
		"running":        s.IsRunning(),
		"currentSlot":    s.wheel.GetCurrentSlot(),
		"totalTaskCount": s.wheel.GetTotalTaskCount(),
		"workerCount":    s.workerPool.workerCount,
	}
}
