package concurrent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Options 分批执行配置
type Options struct {
	ExecuteAll          bool          // 不分批，整体调用一次（下游接口已做服务端分批时使用）
	BatchSize           int           // 分批大小，末批可以更小
	ParallelBatches     bool          // 批与批之间是否允许并发，false 时强制串行（外部接口限流）
	InterSubmitInterval time.Duration // 批内相邻提交之间的间隔
}

// Chunk 把 items 切成大小不超过 size 的分片
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 100
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// BatchCall 按配置分批执行 fn 并做 extend 聚合。
// 单个分片的失败不会阻止其它分片执行，错误汇总后一并返回。
func BatchCall[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, batch []T) ([]R, error), opts Options, executor Executor) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if opts.ExecuteAll {
		return call(ctx, items, fn)
	}

	chunks := Chunk(items, opts.BatchSize)
	chunkResults := make([][]R, len(chunks))
	chunkErrs := make([]error, len(chunks))

	tasks := make([]func(), 0, len(chunks))
	for i := range chunks {
		i := i
		tasks = append(tasks, func() {
			chunkResults[i], chunkErrs[i] = call(ctx, chunks[i], fn)
		})
	}

	// 批间不允许并发时忽略传入的策略，强制串行
	if !opts.ParallelBatches {
		executor = SerialExecutor{}
	}
	if executor == nil {
		executor = SerialExecutor{}
	}
	executor.Run(ctx, tasks, opts.InterSubmitInterval)

	var results []R
	for _, rs := range chunkResults {
		results = append(results, rs...)
	}
	return results, errors.Join(chunkErrs...)
}

// call 执行单个分片并把 panic 收敛为 error，避免单片异常拖垮整批
func call[T, R any](ctx context.Context, batch []T, fn func(ctx context.Context, batch []T) ([]R, error)) (results []R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("批量调用发生 panic: %v", r)
		}
	}()
	return fn(ctx, batch)
}
