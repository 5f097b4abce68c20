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

// GetAgentStatusService 轮询 GSE 等待批次内主机的 Agent 收敛到期望存活状态。
// 预算检查放在本轮远程查询之后：查询结果总是先被消化，再裁决超时。
type GetAgentStatusService struct {
	engine.BaseService
	logger      *zap.Logger
	gse         GseAPI
	procs       ProcessStatusStore
	expectAlive bool
	interval    time.Duration
	timeout     time.Duration
}

// NewGetAgentStatusService 创建 Agent 状态轮询步骤。
// expectAlive 为 true 时等待 Agent 存活（安装场景），false 时等待下线（卸载场景）。
func NewGetAgentStatusService(logger *zap.Logger, gse GseAPI, procs ProcessStatusStore,
	expectAlive bool, scheduleCfg config.ScheduleConfig) *GetAgentStatusService {
	return &GetAgentStatusService{
		logger:      logger,
		gse:         gse,
		procs:       procs,
		expectAlive: expectAlive,
		interval:    scheduleCfg.Interval,
		timeout:     scheduleCfg.PollTimeout,
	}
}

func (s *GetAgentStatusService) Name() string {
	return "get_agent_status"
}

func (s *GetAgentStatusService) NeedSchedule() bool {
	return true
}

func (s *GetAgentStatusService) Execute(ctx context.Context, data *engine.Data) error {
	remaining := data.RemainingInstances()
	if len(remaining) == 0 {
		return nil
	}
	expect := "存活"
	if !s.expectAlive {
		expect = "下线"
	}
	data.Tracker.LogInfo(ctx, instanceIDs(remaining),
		fmt.Sprintf("开始轮询 Agent 状态，期望状态: %s", expect))
	return nil
}

func (s *GetAgentStatusService) Schedule(ctx context.Context, data *engine.Data) (bool, error) {
	remaining := data.RemainingInstances()
	if len(remaining) == 0 {
		return true, nil
	}

	gseHosts := make([]adapter.GseHost, 0, len(remaining))
	for _, inst := range remaining {
		info := inst.InstanceInfo.Data()
		gseHosts = append(gseHosts, adapter.GseHost{CloudID: info.CloudID, IP: info.LoginIP()})
	}

	statuses, err := s.gse.GetAgentStatus(ctx, gseHosts)
	if err != nil {
		// 瞬时查询失败消耗预算后重试
		s.logger.Warn("Agent 状态查询失败", zap.Error(err))
		return s.checkBudget(ctx, data, remaining)
	}

	converged := make(map[int64]string) // hostID -> 进程状态
	var pending []models.SubscriptionInstance
	for _, inst := range remaining {
		info := inst.InstanceInfo.Data()
		status, ok := statuses[adapter.HostKey(info.CloudID, info.LoginIP())]
		alive := ok && status.Alive
		if alive == s.expectAlive {
			procStatus := models.ProcStatusRunning
			if !s.expectAlive {
				procStatus = models.ProcStatusTerminated
			}
			if inst.HostID > 0 {
				converged[inst.HostID] = procStatus
			}
			data.Tracker.LogInfo(ctx, []string{inst.ID}, "Agent 状态已收敛")
			continue
		}
		pending = append(pending, inst)
	}

	if len(converged) > 0 {
		if err := s.syncProcStatus(ctx, converged); err != nil {
			s.logger.Error("进程状态同步失败", zap.Error(err))
		}
	}
	if len(pending) == 0 {
		return true, nil
	}
	return s.checkBudget(ctx, data, pending)
}

// checkBudget 消耗一轮预算，超时则把仍未收敛的实例判失败并结束轮询
func (s *GetAgentStatusService) checkBudget(ctx context.Context, data *engine.Data, pending []models.SubscriptionInstance) (bool, error) {
	elapsed := data.Budget.Next(s.interval)
	if !data.Budget.Expired(s.timeout) {
		return false, nil
	}
	data.Tracker.MoveToFailed(ctx, instanceIDs(pending),
		fmt.Sprintf("等待 Agent 状态收敛超时（已等待 %s）", elapsed))
	return true, nil
}

// syncProcStatus 把收敛结果同步进进程状态存储
func (s *GetAgentStatusService) syncProcStatus(ctx context.Context, statusByHost map[int64]string) error {
	hostIDs := make([]int64, 0, len(statusByHost))
	for hostID := range statusByHost {
		hostIDs = append(hostIDs, hostID)
	}
	rows, err := s.procs.FindByHostIDIn(ctx, hostIDs, models.ProcNameAgent, models.ProcSourceDefault)
	if err != nil {
		return err
	}

	updates := make(map[int64]string)
	for _, row := range rows {
		if status, ok := statusByHost[row.HostID]; ok && row.Status != status {
			updates[row.ID] = status
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return s.procs.BulkUpdateStatus(ctx, updates)
}
