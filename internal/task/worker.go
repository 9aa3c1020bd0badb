package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ResultFunc 任务执行结果回调
type ResultFunc func(task *Task, err error)

// WorkerPool 工作协程池
type WorkerPool struct {
	workerCount int
	taskChan    chan *Task
	onResult    ResultFunc
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger
}

// NewWorkerPool 创建工作协程池
func NewWorkerPool(workerCount int, onResult ResultFunc) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: workerCount,
		taskChan:    make(chan *Task, workerCount*2),
		onResult:    onResult,
		ctx:         ctx,
		cancel:      cancel,
		logger:      slog.Default(),
	}
}

// Start 启动工作协程池
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Info("工作协程池已启动", "workerCount", wp.workerCount)
}

// worker 工作协程
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return

		case task := <-wp.taskChan:
			if task == nil {
				continue
			}
			err := wp.executeTask(id, task)
			if wp.onResult != nil {
				wp.onResult(task, err)
			}
		}
	}
}

// executeTask 执行任务，panic 视为一次失败
func (wp *WorkerPool) executeTask(workerID int, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("任务执行 panic",
				"workerID", workerID,
				"taskID", task.ID,
				"attempt", task.Attempt,
				"panic", r)
			err = fmt.Errorf("task panic: %v", r)
		}
	}()

	if err = task.Execute(wp.ctx); err != nil {
		wp.logger.Warn("任务执行失败",
			"workerID", workerID,
			"taskID", task.ID,
			"attempt", task.Attempt,
			"error", err)
	}
	return err
}

// Submit 提交任务
func (wp *WorkerPool) Submit(task *Task) {
	select {
	case wp.taskChan <- task:
	case <-wp.ctx.Done():
		wp.logger.Warn("工作池已关闭,任务提交失败", "taskID", task.ID)
	default:
		wp.logger.Warn("任务通道已满,任务可能延迟执行", "taskID", task.ID)
		select {
		case wp.taskChan <- task:
		case <-wp.ctx.Done():
		}
	}
}

// SubmitBatch 批量提交任务
func (wp *WorkerPool) SubmitBatch(tasks []*Task) {
	for _, task := range tasks {
		wp.Submit(task)
	}
}

// Drain 取出已提交但尚未被工作协程领取的任务，需在 Stop 之后调用
func (wp *WorkerPool) Drain() []*Task {
	var tasks []*Task
	for {
		select {
		case task := <-wp.taskChan:
			if task != nil {
				tasks = append(tasks, task)
			}
		default:
			return tasks
		}
	}
}

// Stop 停止工作协程池
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info("工作协程池已停止")
}
