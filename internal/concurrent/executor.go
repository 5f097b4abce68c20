package concurrent

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Executor 批量调用策略。Run 执行全部任务后返回，
// interval 为相邻两次任务提交之间的间隔（限流用），0 表示不限。
type Executor interface {
	Run(ctx context.Context, tasks []func(), interval time.Duration)
}

// SerialExecutor 串行执行策略
type SerialExecutor struct{}

func (SerialExecutor) Run(ctx context.Context, tasks []func(), interval time.Duration) {
	for i, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		task()
	}
}

// PoolExecutor 线程池执行策略，受全局并发上限约束
type PoolExecutor struct {
	MaxWorkers int
}

func (e PoolExecutor) Run(ctx context.Context, tasks []func(), interval time.Duration) {
	max := e.MaxWorkers
	if max <= 0 {
		max = 50
	}
	p := pool.New().WithMaxGoroutines(max)
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		p.Go(task)
	}
	p.Wait()
}

// GatherExecutor 协程汇聚执行策略：每次调用独立展开全部任务并等待收齐，
// 任务内部自行消化错误，不向外传播。
type GatherExecutor struct{}

func (GatherExecutor) Run(ctx context.Context, tasks []func(), interval time.Duration) {
	p := pool.New()
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		p.Go(task)
	}
	p.Wait()
}
