package concurrent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func makeItems(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func TestBatchCallChunkCount(t *testing.T) {
	ctx := context.Background()
	var calls int64

	fn := func(ctx context.Context, batch []int) ([]int, error) {
		atomic.AddInt64(&calls, 1)
		return batch, nil
	}

	t.Run("95个条目按10分批应调用10次", func(t *testing.T) {
		atomic.StoreInt64(&calls, 0)
		results, err := BatchCall(ctx, makeItems(95), fn, Options{BatchSize: 10, ParallelBatches: true}, PoolExecutor{MaxWorkers: 5})
		if err != nil {
			t.Fatalf("BatchCall() 失败: %v", err)
		}
		if got := atomic.LoadInt64(&calls); got != 10 {
			t.Errorf("应调用 10 次，实际调用 %d 次", got)
		}
		if len(results) != 95 {
			t.Errorf("应返回 95 个结果，实际返回 %d 个", len(results))
		}
	})

	t.Run("executeAll时无论多少条目都只调用1次", func(t *testing.T) {
		atomic.StoreInt64(&calls, 0)
		_, err := BatchCall(ctx, makeItems(95), fn, Options{ExecuteAll: true, BatchSize: 10}, SerialExecutor{})
		if err != nil {
			t.Fatalf("BatchCall() 失败: %v", err)
		}
		if got := atomic.LoadInt64(&calls); got != 1 {
			t.Errorf("应调用 1 次，实际调用 %d 次", got)
		}
	})

	t.Run("空条目不调用", func(t *testing.T) {
		atomic.StoreInt64(&calls, 0)
		results, err := BatchCall(ctx, nil, fn, Options{BatchSize: 10}, SerialExecutor{})
		if err != nil {
			t.Fatalf("BatchCall() 失败: %v", err)
		}
		if results != nil || atomic.LoadInt64(&calls) != 0 {
			t.Errorf("空条目不应产生调用")
		}
	})
}

func TestBatchCallFailureIsolation(t *testing.T) {
	ctx := context.Background()

	fn := func(ctx context.Context, batch []int) ([]int, error) {
		if batch[0] == 10 {
			return nil, errors.New("第二片失败")
		}
		if batch[0] == 20 {
			panic("第三片 panic")
		}
		return batch, nil
	}

	results, err := BatchCall(ctx, makeItems(30), fn, Options{BatchSize: 10, ParallelBatches: true}, GatherExecutor{})
	if err == nil {
		t.Fatal("应返回聚合错误")
	}
	// 第一片的 10 个结果不受其它分片失败影响
	if len(results) != 10 {
		t.Errorf("应返回 10 个结果，实际返回 %d 个", len(results))
	}
}

func TestBatchCallForcedSerial(t *testing.T) {
	ctx := context.Background()
	var concurrent int64
	var peak int64

	fn := func(ctx context.Context, batch []int) ([]int, error) {
		cur := atomic.AddInt64(&concurrent, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&concurrent, -1)
		return batch, nil
	}

	// ParallelBatches=false 时即使传入并发策略也应串行
	_, err := BatchCall(ctx, makeItems(40), fn, Options{BatchSize: 10, ParallelBatches: false}, PoolExecutor{MaxWorkers: 8})
	if err != nil {
		t.Fatalf("BatchCall() 失败: %v", err)
	}
	if atomic.LoadInt64(&peak) != 1 {
		t.Errorf("强制串行时并发峰值应为 1，实际为 %d", peak)
	}
}

func TestChunk(t *testing.T) {
	chunks := Chunk(makeItems(7), 3)
	if len(chunks) != 3 {
		t.Fatalf("应切成 3 片，实际 %d 片", len(chunks))
	}
	if len(chunks[2]) != 1 {
		t.Errorf("末片应为 1 个条目，实际 %d 个", len(chunks[2]))
	}
}
