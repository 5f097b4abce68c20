package engine

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/models"
)

// LogWriter 实例过程日志落盘接口，由 repo.InstanceRepo 实现
type LogWriter interface {
	WriteLogs(ctx context.Context, instanceIDs []string, step, level, content string) error
}

// Tracker 订阅实例批次簿记。
// 不变式：任一实例 ID 至多出现在 remaining 与 failed 之一；
// 进入 failed 后对本批次后续步骤永久排除。
type Tracker struct {
	mu        sync.Mutex
	step      string
	initial   []string
	remaining map[string]struct{}
	failed    map[string]string
	logw      LogWriter
	logger    *zap.Logger
}

// NewTracker 创建批次簿记
func NewTracker(instanceIDs []string, logw LogWriter, logger *zap.Logger) *Tracker {
	remaining := make(map[string]struct{}, len(instanceIDs))
	for _, id := range instanceIDs {
		remaining[id] = struct{}{}
	}
	return &Tracker{
		initial:   append([]string(nil), instanceIDs...),
		remaining: remaining,
		failed:    make(map[string]string),
		logw:      logw,
		logger:    logger,
	}
}

// BeginStep 进入新步骤，后续日志归属该步骤；
// 每个步骤以上一步骤结束时的 remaining 作为自己的初始工作集。
func (t *Tracker) BeginStep(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.step = step
}

// MoveToFailed 把一组实例标记为永久失败并记录失败原因。
// 对已失败或未跟踪的 ID 为幂等空操作。
func (t *Tracker) MoveToFailed(ctx context.Context, instanceIDs []string, reason string) {
	t.mu.Lock()
	var moved []string
	for _, id := range instanceIDs {
		if _, ok := t.remaining[id]; !ok {
			continue
		}
		delete(t.remaining, id)
		t.failed[id] = reason
		moved = append(moved, id)
	}
	step := t.step
	t.mu.Unlock()

	if len(moved) == 0 {
		return
	}
	// 失败记录前先落日志，操作者总能看到失败原因
	t.write(ctx, moved, step, models.LogLevelError, reason)
	if t.logger != nil {
		t.logger.Warn("实例移入失败集合",
			zap.String("step", step),
			zap.Int("count", len(moved)),
			zap.String("reason", reason))
	}
}

// LogInfo 为一组实例记录 INFO 日志
func (t *Tracker) LogInfo(ctx context.Context, instanceIDs []string, content string) {
	t.write(ctx, instanceIDs, t.currentStep(), models.LogLevelInfo, content)
}

// LogWarning 为一组实例记录 WARNING 日志
func (t *Tracker) LogWarning(ctx context.Context, instanceIDs []string, content string) {
	t.write(ctx, instanceIDs, t.currentStep(), models.LogLevelWarning, content)
}

// LogError 为一组实例记录 ERROR 日志
func (t *Tracker) LogError(ctx context.Context, instanceIDs []string, content string) {
	t.write(ctx, instanceIDs, t.currentStep(), models.LogLevelError, content)
}

// Remaining 返回尚未失败的实例 ID（有序副本）
func (t *Tracker) Remaining() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.remaining))
	for id := range t.remaining {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRemaining 实例是否仍在处理中
func (t *Tracker) IsRemaining(instanceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.remaining[instanceID]
	return ok
}

// FailedReasons 返回失败实例及原因（副本）
func (t *Tracker) FailedReasons() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	failed := make(map[string]string, len(t.failed))
	for id, reason := range t.failed {
		failed[id] = reason
	}
	return failed
}

// Initial 返回批次初始实例 ID
func (t *Tracker) Initial() []string {
	return append([]string(nil), t.initial...)
}

func (t *Tracker) currentStep() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.step
}

func (t *Tracker) write(ctx context.Context, instanceIDs []string, step, level, content string) {
	if t.logw == nil || len(instanceIDs) == 0 {
		return
	}
	if err := t.logw.WriteLogs(ctx, instanceIDs, step, level, content); err != nil && t.logger != nil {
		t.logger.Error("实例日志写入失败", zap.String("step", step), zap.Error(err))
	}
}
