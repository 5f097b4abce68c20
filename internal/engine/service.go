package engine

import (
	"context"

	"github.com/dushixiang/nodeman/internal/models"
)

// Data 一次原子步骤执行所携带的批次数据，由管道引擎在步骤间传递。
type Data struct {
	SubscriptionID int64                          // 所属订阅
	Instances      []models.SubscriptionInstance  // 批次内全部订阅实例
	Tracker        *Tracker                       // 批次簿记
	Budget         PollingBudget                  // 当前步骤的轮询预算
	Outputs        map[string]interface{}         // 步骤间传递的不透明输出（任务句柄等）
}

// RemainingInstances 返回尚未失败的实例（上游已剔除的实例不参与本步骤）
func (d *Data) RemainingInstances() []models.SubscriptionInstance {
	instances := make([]models.SubscriptionInstance, 0, len(d.Instances))
	for _, inst := range d.Instances {
		if d.Tracker.IsRemaining(inst.ID) {
			instances = append(instances, inst)
		}
	}
	return instances
}

// InstanceByID 按 ID 查找实例
func (d *Data) InstanceByID(id string) (models.SubscriptionInstance, bool) {
	for _, inst := range d.Instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return models.SubscriptionInstance{}, false
}

// Service 原子步骤。Execute 只调用一次；需要轮询的步骤
// NeedSchedule 返回 true，随后引擎按固定间隔调用 Schedule，
// 直到其返回 done 或返回错误（批次级致命错误）。
// 单台主机的失败必须在步骤内部转化为 Tracker 失败记录，
// 只有使整个步骤失去意义的错误（缺失配置等）才允许作为 error 返回。
type Service interface {
	Name() string
	Execute(ctx context.Context, data *Data) error
	NeedSchedule() bool
	Schedule(ctx context.Context, data *Data) (done bool, err error)
}

// BaseService 无轮询步骤的缺省实现
type BaseService struct{}

func (BaseService) NeedSchedule() bool {
	return false
}

func (BaseService) Schedule(ctx context.Context, data *Data) (bool, error) {
	return true, nil
}
