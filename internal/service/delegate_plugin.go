package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/adapter"
	"github.com/dushixiang/nodeman/internal/config"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
)

// outputKeyProcTaskID 进程操作任务句柄在步骤间传递的键
const outputKeyProcTaskID = "proc_task_id"

// DelegatePluginProcService 向 GSE 注册进程托管信息并下发进程操作，
// 随后轮询任务结果直到全部主机出结果或预算耗尽。
// GSE 返回"任务尚未入队"时本轮不消耗预算（任务还没开始跑，不应计入等待）；
// "执行中"正常消耗预算。预算耗尽只判仍无结果的实例失败。
type DelegatePluginProcService struct {
	engine.BaseService
	name     string
	logger   *zap.Logger
	gse      GseAPI
	aps      AccessPointStore
	procName string
	opType   int
	interval time.Duration
	timeout  time.Duration
}

// NewDelegatePluginProcService 创建进程托管步骤
func NewDelegatePluginProcService(logger *zap.Logger, gse GseAPI, aps AccessPointStore,
	procName string, scheduleCfg config.ScheduleConfig) *DelegatePluginProcService {
	return &DelegatePluginProcService{
		name:     "delegate_plugin_proc",
		logger:   logger,
		gse:      gse,
		aps:      aps,
		procName: procName,
		opType:   adapter.ProcOpDelegate,
		interval: scheduleCfg.Interval,
		timeout:  scheduleCfg.PollTimeout,
	}
}

// NewUndelegatePluginProcService 创建取消托管步骤（卸载场景）
func NewUndelegatePluginProcService(logger *zap.Logger, gse GseAPI, aps AccessPointStore,
	procName string, scheduleCfg config.ScheduleConfig) *DelegatePluginProcService {
	s := NewDelegatePluginProcService(logger, gse, aps, procName, scheduleCfg)
	s.name = "undelegate_plugin_proc"
	s.opType = adapter.ProcOpUndelegate
	return s
}

func (s *DelegatePluginProcService) Name() string {
	return s.name
}

func (s *DelegatePluginProcService) NeedSchedule() bool {
	return true
}

func (s *DelegatePluginProcService) Execute(ctx context.Context, data *engine.Data) error {
	remaining := data.RemainingInstances()
	if len(remaining) == 0 {
		return nil
	}

	// 托管场景先注册进程信息，取消托管直接下发操作
	if s.opType == adapter.ProcOpDelegate {
		if err := s.updateProcInfo(ctx, data, remaining); err != nil {
			return err
		}
		remaining = data.RemainingInstances()
		if len(remaining) == 0 {
			return nil
		}
	}

	spec := adapter.ProcOperateSpec{
		Hosts:    gseHostsOf(remaining),
		ProcName: s.procName,
		OpType:   s.opType,
	}
	taskID, err := s.gse.OperateProc(ctx, spec)
	if err != nil {
		return fmt.Errorf("下发进程操作失败: %w", err)
	}
	data.Outputs[outputKeyProcTaskID] = taskID
	data.Tracker.LogInfo(ctx, instanceIDs(remaining),
		fmt.Sprintf("进程操作已下发，任务句柄 %s", taskID))
	return nil
}

// updateProcInfo 注册进程托管信息，单台注册失败只影响该实例
func (s *DelegatePluginProcService) updateProcInfo(ctx context.Context, data *engine.Data, remaining []models.SubscriptionInstance) error {
	spec := adapter.ProcInfoSpec{
		Hosts:    gseHostsOf(remaining),
		ProcName: s.procName,
		User:     "root",
	}
	if setupPath := s.agentSetupPath(ctx, remaining); setupPath != "" {
		spec.SetupPath = setupPath
	}

	results, err := s.gse.UpdateProcInfo(ctx, spec)
	if err != nil {
		return fmt.Errorf("注册进程托管信息失败: %w", err)
	}
	for _, inst := range remaining {
		info := inst.InstanceInfo.Data()
		key := adapter.ProcKey(info.CloudID, info.LoginIP(), s.procName)
		if r, ok := results[key]; ok && r.ErrorCode != adapter.GseCodeSuccess {
			data.Tracker.MoveToFailed(ctx, []string{inst.ID},
				fmt.Sprintf("进程托管信息注册失败: %s", r.ErrorMsg))
		}
	}
	return nil
}

// agentSetupPath 从批次主机的接入点配置解析安装目录（取第一台能解析出的）
func (s *DelegatePluginProcService) agentSetupPath(ctx context.Context, remaining []models.SubscriptionInstance) string {
	aps, err := s.aps.FindAll(ctx)
	if err != nil || len(aps) == 0 {
		return ""
	}
	for _, inst := range remaining {
		info := inst.InstanceInfo.Data()
		for _, ap := range aps {
			if cfg, ok := ap.AgentConfig.Data()[info.OSType]; ok && cfg.SetupPath != "" {
				return cfg.SetupPath
			}
		}
	}
	return ""
}

func (s *DelegatePluginProcService) Schedule(ctx context.Context, data *engine.Data) (bool, error) {
	remaining := data.RemainingInstances()
	if len(remaining) == 0 {
		return true, nil
	}
	taskID, _ := data.Outputs[outputKeyProcTaskID].(string)
	if taskID == "" {
		return false, fmt.Errorf("缺少进程操作任务句柄")
	}

	result, err := s.gse.GetProcOperateResult(ctx, taskID)
	if err != nil {
		s.logger.Warn("进程操作结果查询失败", zap.String("taskId", taskID), zap.Error(err))
		return s.consumeBudget(ctx, data, remaining, true)
	}

	switch result.Code {
	case adapter.GseCodePendingEnqueue:
		// 任务还没入队，不算等待时长
		s.logger.Debug("进程操作任务尚未入队", zap.String("taskId", taskID))
		return s.consumeBudget(ctx, data, remaining, false)
	case adapter.GseCodeRunning:
		return s.consumeBudget(ctx, data, remaining, true)
	}

	var pending []models.SubscriptionInstance
	for _, inst := range remaining {
		info := inst.InstanceInfo.Data()
		key := adapter.ProcKey(info.CloudID, info.LoginIP(), s.procName)
		r, ok := result.Data[key]
		if !ok {
			pending = append(pending, inst)
			continue
		}
		switch r.ErrorCode {
		case adapter.GseCodeSuccess:
			data.Tracker.LogInfo(ctx, []string{inst.ID}, "进程操作执行成功")
		case adapter.GseCodeRunning, adapter.GseCodePendingEnqueue:
			pending = append(pending, inst)
		default:
			data.Tracker.MoveToFailed(ctx, []string{inst.ID},
				fmt.Sprintf("进程操作失败（错误码 %d）: %s", r.ErrorCode, r.ErrorMsg))
		}
	}
	if len(pending) == 0 {
		return true, nil
	}
	return s.consumeBudget(ctx, data, pending, true)
}

// consumeBudget 按需消耗一轮预算；超时把仍无结果的实例判失败并结束轮询
func (s *DelegatePluginProcService) consumeBudget(ctx context.Context, data *engine.Data,
	pending []models.SubscriptionInstance, consume bool) (bool, error) {
	if consume {
		data.Budget.Next(s.interval)
	}
	if !data.Budget.Expired(s.timeout) {
		return false, nil
	}
	data.Tracker.MoveToFailed(ctx, instanceIDs(pending),
		fmt.Sprintf("等待进程操作结果超时（已等待 %s）", data.Budget.Elapsed))
	return true, nil
}

// gseHostsOf 提取批次实例对应的 GSE 主机参数
func gseHostsOf(instances []models.SubscriptionInstance) []adapter.GseHost {
	hosts := make([]adapter.GseHost, 0, len(instances))
	for _, inst := range instances {
		info := inst.InstanceInfo.Data()
		hosts = append(hosts, adapter.GseHost{CloudID: info.CloudID, IP: info.LoginIP()})
	}
	return hosts
}
