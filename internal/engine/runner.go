package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner 在进程内驱动一组原子步骤：Execute 调用一次，
// 需要轮询的步骤按固定间隔调用 Schedule 直到完成。
// 完整的 DAG 管道引擎是外部协作方，这里只承担其调用契约。
type Runner struct {
	cron     *cron.Cron
	logger   *zap.Logger
	interval time.Duration // 轮询间隔
	timeout  time.Duration // 轮询超时预算
}

// NewRunner 创建步骤驱动器
func NewRunner(logger *zap.Logger, interval, timeout time.Duration) *Runner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{
		cron:     cron.New(cron.WithSeconds()),
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// Interval 轮询间隔
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// PollTimeout 轮询超时预算
func (r *Runner) PollTimeout() time.Duration {
	return r.timeout
}

// Start 启动调度器
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop 停止调度器并等待在途任务结束
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Run 顺序执行全部步骤。步骤返回的错误视为批次级致命错误：
// 所有剩余实例以该原因置失败，管道终止。
func (r *Runner) Run(ctx context.Context, services []Service, data *Data) error {
	for _, svc := range services {
		if len(data.Tracker.Remaining()) == 0 {
			r.logger.Info("批次内已无待处理实例，管道提前结束")
			return nil
		}
		if err := r.runStep(ctx, svc, data); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, svc Service, data *Data) error {
	data.Tracker.BeginStep(svc.Name())
	data.Budget.Reset()
	r.logger.Info("执行原子步骤",
		zap.String("step", svc.Name()),
		zap.Int("remaining", len(data.Tracker.Remaining())))

	if err := svc.Execute(ctx, data); err != nil {
		r.failBatch(ctx, svc, data, err)
		return err
	}
	if !svc.NeedSchedule() {
		return nil
	}
	return r.schedule(ctx, svc, data)
}

// schedule 按固定间隔驱动 Schedule，调度周期由 cron 持有；
// 上一轮未结束时跳过本轮，避免轮询重入。
func (r *Runner) schedule(ctx context.Context, svc Service, data *Data) error {
	done := make(chan error, 1)
	var running atomic.Bool
	var finished atomic.Bool

	spec := fmt.Sprintf("@every %s", r.interval)
	entryID, err := r.cron.AddFunc(spec, func() {
		if finished.Load() || !running.CompareAndSwap(false, true) {
			return
		}
		defer running.Store(false)

		ok, scheduleErr := svc.Schedule(ctx, data)
		if scheduleErr != nil || ok {
			if finished.CompareAndSwap(false, true) {
				done <- scheduleErr
			}
		}
	})
	if err != nil {
		return fmt.Errorf("注册轮询任务失败: %w", err)
	}
	defer r.cron.Remove(entryID)

	select {
	case err := <-done:
		if err != nil {
			r.failBatch(ctx, svc, data, err)
		}
		return err
	case <-ctx.Done():
		// 外部放弃调度不承担资源回收，远程调用自带超时自行退出
		return ctx.Err()
	}
}

func (r *Runner) failBatch(ctx context.Context, svc Service, data *Data, err error) {
	remaining := data.Tracker.Remaining()
	data.Tracker.MoveToFailed(ctx, remaining, err.Error())
	r.logger.Error("原子步骤发生批次级错误",
		zap.String("step", svc.Name()),
		zap.Int("failed", len(remaining)),
		zap.Error(err))
}
