package task

import (
	"context"
	"time"
)

// TaskFunc 任务执行函数，attempt 从 1 开始
type TaskFunc func(ctx context.Context, attempt int) error

// GiveUpFunc 重试次数耗尽时的回调
type GiveUpFunc func(lastErr error)

// Task 延迟任务
type Task struct {
	ID          string     // 任务唯一ID（发送重试时为消息ID）
	Attempt     int        // 当前执行次数
	MaxAttempts int        // 最大执行次数，1 表示不重试
	Delay       int        // 延迟秒数 (1-60)
	Fn          TaskFunc   // 执行函数
	OnGiveUp    GiveUpFunc // 最终失败回调
	CreatedAt   time.Time
}

// NewTask 创建新任务
func NewTask(id string, delay int, fn TaskFunc) *Task {
	return &Task{
		ID:          id,
		Attempt:     1,
		MaxAttempts: 1,
		Delay:       delay,
		Fn:          fn,
		CreatedAt:   time.Now(),
	}
}

// WithRetry 设置最大执行次数与最终失败回调
func (t *Task) WithRetry(maxAttempts int, onGiveUp GiveUpFunc) *Task {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	t.MaxAttempts = maxAttempts
	t.OnGiveUp = onGiveUp
	return t
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx, t.Attempt)
}

// CanRetry 是否还能再次执行
func (t *Task) CanRetry() bool {
	return t.Attempt < t.MaxAttempts
}

// Backoff 第 attempt 次执行前的等待秒数：1, 2, 4, 8 ... 不超过时间轮一圈
func Backoff(attempt int) int {
	if attempt < 1 {
		return 1
	}
	if attempt > 6 {
		return SlotCount
	}
	d := 1 << (attempt - 1)
	if d > SlotCount {
		return SlotCount
	}
	return d
}
