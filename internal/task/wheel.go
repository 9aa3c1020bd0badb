package task

import (
	"sync"
	"time"
)

// SlotCount 时间轮槽位数量，1 秒一格
const SlotCount = 60

// TimeWheel 单层时间轮，延迟上限为一圈
type TimeWheel struct {
	slots       [SlotCount]*Slot
	currentSlot int
	slotMu      sync.RWMutex
	ticker      *time.Ticker
	index       sync.Map // taskID -> 槽位，用于取消
}

// NewTimeWheel 创建时间轮
func NewTimeWheel(tick time.Duration) *TimeWheel {
	tw := &TimeWheel{ticker: time.NewTicker(tick)}
	for i := 0; i < SlotCount; i++ {
		tw.slots[i] = NewSlot()
	}
	return tw
}

// AddTask 添加任务到时间轮
func (tw *TimeWheel) AddTask(task *Task) {
	if task.Delay < 1 || task.Delay > SlotCount {
		task.Delay = 1
	}

	tw.slotMu.RLock()
	targetSlot := (tw.currentSlot + task.Delay) % SlotCount
	tw.slotMu.RUnlock()

	if prev, ok := tw.index.Swap(task.ID, targetSlot); ok && prev.(int) != targetSlot {
		tw.slots[prev.(int)].RemoveTask(task.ID)
	}
	tw.slots[targetSlot].AddTask(task)
}

// RemoveTask 取消任务
func (tw *TimeWheel) RemoveTask(taskID string) bool {
	slot, ok := tw.index.LoadAndDelete(taskID)
	if !ok {
		return false
	}
	return tw.slots[slot.(int)].RemoveTask(taskID)
}

// Tick 推进一格，返回到期任务
func (tw *TimeWheel) Tick() []*Task {
	tw.slotMu.Lock()
	tw.currentSlot = (tw.currentSlot + 1) % SlotCount
	currentSlot := tw.currentSlot
	tw.slotMu.Unlock()

	tasks := tw.slots[currentSlot].GetAndClear()
	for _, t := range tasks {
		tw.index.CompareAndDelete(t.ID, currentSlot)
	}
	return tasks
}

// Drain 取出全部未到期任务并清空时间轮
func (tw *TimeWheel) Drain() []*Task {
	var tasks []*Task
	for i := 0; i < SlotCount; i++ {
		for _, t := range tw.slots[i].GetAndClear() {
			tw.index.Delete(t.ID)
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// GetCurrentSlot 获取当前槽位索引
func (tw *TimeWheel) GetCurrentSlot() int {
	tw.slotMu.RLock()
	defer tw.slotMu.RUnlock()

	return tw.currentSlot
}

// Stop 停止时间轮
func (tw *TimeWheel) Stop() {
	tw.ticker.Stop()
}

// GetTicker 获取定时器
func (tw *TimeWheel) GetTicker() *time.Ticker {
	return tw.ticker
}

// GetTotalTaskCount 获取所有槽位的任务总数
func (tw *TimeWheel) GetTotalTaskCount() int {
	total := 0
	for i := 0; i < SlotCount; i++ {
		total += tw.slots[i].Count()
	}
	return total
}
