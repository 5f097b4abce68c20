package engine

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// memoryLogWriter 测试用的实例日志收集器
type memoryLogWriter struct {
	mu    sync.Mutex
	lines []string
}

func (w *memoryLogWriter) WriteLogs(ctx context.Context, instanceIDs []string, step, level, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for range instanceIDs {
		w.lines = append(w.lines, level+": "+content)
	}
	return nil
}

func TestTrackerInvariant(t *testing.T) {
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d", "e"}
	tracker := NewTracker(ids, &memoryLogWriter{}, zap.NewNop())
	tracker.BeginStep("step1")

	tracker.MoveToFailed(ctx, []string{"b", "d"}, "连接失败")
	tracker.MoveToFailed(ctx, []string{"b"}, "重复标记应为空操作")
	tracker.MoveToFailed(ctx, []string{"x"}, "未跟踪的 ID 应被忽略")

	remaining := tracker.Remaining()
	failed := tracker.FailedReasons()

	// remaining ∩ failed == ∅
	for _, id := range remaining {
		if _, ok := failed[id]; ok {
			t.Errorf("实例 %s 同时出现在 remaining 与 failed", id)
		}
	}
	// remaining ∪ failed == initial
	if len(remaining)+len(failed) != len(ids) {
		t.Errorf("remaining(%d) + failed(%d) 应等于初始数量 %d", len(remaining), len(failed), len(ids))
	}
	// 幂等：首次失败原因保留
	if failed["b"] != "连接失败" {
		t.Errorf("重复标记不应覆盖首次失败原因，当前为 %q", failed["b"])
	}
	if len(remaining) != 3 {
		t.Errorf("应剩余 3 个实例，实际 %d 个", len(remaining))
	}
	// 初始集合不随失败缩小
	if got := tracker.Initial(); len(got) != len(ids) {
		t.Errorf("初始集合应为 %d 个实例，实际 %d 个", len(ids), len(got))
	}
}

func TestTrackerNarrowing(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker([]string{"a", "b", "c"}, &memoryLogWriter{}, zap.NewNop())

	tracker.BeginStep("step1")
	tracker.MoveToFailed(ctx, []string{"a"}, "步骤一失败")

	// 下一步骤以上一步的 remaining 作为初始工作集
	tracker.BeginStep("step2")
	if got := len(tracker.Remaining()); got != 2 {
		t.Fatalf("步骤二初始工作集应为 2，实际 %d", got)
	}
	tracker.MoveToFailed(ctx, []string{"b"}, "步骤二失败")
	if got := len(tracker.Remaining()); got != 1 {
		t.Fatalf("应剩余 1 个实例，实际 %d", got)
	}
	if !tracker.IsRemaining("c") {
		t.Error("实例 c 应仍在处理中")
	}
}

func TestTrackerConcurrentMoveToFailed(t *testing.T) {
	ctx := context.Background()
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = string(rune('0' + i%10))
	}
	// 去重后的初始集合
	tracker := NewTracker([]string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, &memoryLogWriter{}, zap.NewNop())
	tracker.BeginStep("step")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tracker.MoveToFailed(ctx, []string{id}, "并发失败")
		}(ids[i])
	}
	wg.Wait()

	if got := len(tracker.Remaining()); got != 0 {
		t.Errorf("全部实例应已失败，剩余 %d", got)
	}
	if got := len(tracker.FailedReasons()); got != 10 {
		t.Errorf("失败集合应为 10，实际 %d", got)
	}
}

func TestTrackerLogBeforeFailure(t *testing.T) {
	ctx := context.Background()
	writer := &memoryLogWriter{}
	tracker := NewTracker([]string{"a"}, writer, zap.NewNop())
	tracker.BeginStep("step")

	tracker.MoveToFailed(ctx, []string{"a"}, "该区域无存活 Proxy，请联系管理员")
	if len(writer.lines) != 1 {
		t.Fatalf("失败时应落一条日志，实际 %d 条", len(writer.lines))
	}
	if writer.lines[0] != "ERROR: 该区域无存活 Proxy，请联系管理员" {
		t.Errorf("日志内容不符: %s", writer.lines[0])
	}
}
