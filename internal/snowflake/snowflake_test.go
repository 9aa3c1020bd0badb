package snowflake

import (
	"sync"
	"testing"
	"time"
)

func TestNewNodeRejectsOutOfRange(t *testing.T) {
	if _, err := NewNode(-1); err == nil {
		t.Error("期望节点号 -1 返回错误")
	}
	if _, err := NewNode(maxNodeID + 1); err == nil {
		t.Error("期望超出范围的节点号返回错误")
	}
}

func TestGenerateMonotonic(t *testing.T) {
	node, err := NewNode(7)
	if err != nil {
		t.Fatalf("创建节点失败: %v", err)
	}

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		if id <= prev {
			t.Fatalf("ID 未单调递增: %d <= %d", id, prev)
		}
		prev = id
	}
}

func TestGenerateClockBackwards(t *testing.T) {
	node, _ := NewNode(1)
	clock := int64(1735689600000)
	node.now = func() int64 { return clock }

	first := node.Generate()
	clock -= 5000
	second := node.Generate()
	if second <= first {
		t.Errorf("时钟回拨后 ID 应继续递增: %d <= %d", second, first)
	}
}

func TestGenerateConcurrentUnique(t *testing.T) {
	node, _ := NewNode(3)
	var mu sync.Mutex
	seen := make(map[ID]struct{})
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				id := node.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 8000 {
		t.Errorf("期望 8000 个唯一 ID, 实际 = %d", len(seen))
	}
}

func TestParseAndTime(t *testing.T) {
	node, _ := NewNode(2)
	before := time.Now().Add(-time.Second)
	id := node.Generate()

	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if parsed != id {
		t.Errorf("期望 %d, 实际 %d", id, parsed)
	}
	if id.Time().Before(before) {
		t.Errorf("ID 时间戳异常: %v", id.Time())
	}

	if _, err := Parse("not-a-number"); err == nil {
		t.Error("期望非法字符串解析失败")
	}
}
