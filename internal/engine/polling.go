package engine

import "time"

// PollingBudget 轮询超时预算。纯值语义，不做任何 I/O。
// 用法：每次调度先 Next(interval) 再 Expired(timeout)，
// 使最后一次允许的轮询恰好落在超时边界上执行。
type PollingBudget struct {
	Elapsed time.Duration // 已消耗的轮询时长
}

// Next 累加一个轮询间隔并返回累加后的时长
func (b *PollingBudget) Next(interval time.Duration) time.Duration {
	b.Elapsed += interval
	return b.Elapsed
}

// Expired 预算是否耗尽
func (b *PollingBudget) Expired(timeout time.Duration) bool {
	return b.Elapsed > timeout
}

// Reset 清零，进入下一个轮询型步骤前调用
func (b *PollingBudget) Reset() {
	b.Elapsed = 0
}
