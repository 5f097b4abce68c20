package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/adapter"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
)

// UpdateProcessStatusService 把批次内主机的 Agent 进程状态与版本刷进存储。
// 历史重试可能给同一 (主机, 进程, 来源) 留下重复行，刷新前先主动收敛：
// 保留运行中的行，都不在运行则保留 id 最小的行，其余删除。
type UpdateProcessStatusService struct {
	engine.BaseService
	logger *zap.Logger
	gse    GseAPI
	procs  ProcessStatusStore
	status string
}

// NewUpdateProcessStatusService 创建进程状态刷新步骤，status 为刷新目标状态
func NewUpdateProcessStatusService(logger *zap.Logger, gse GseAPI, procs ProcessStatusStore, status string) *UpdateProcessStatusService {
	return &UpdateProcessStatusService{logger: logger, gse: gse, procs: procs, status: status}
}

func (s *UpdateProcessStatusService) Name() string {
	return "update_process_status"
}

func (s *UpdateProcessStatusService) Execute(ctx context.Context, data *engine.Data) error {
	remaining := data.RemainingInstances()
	if len(remaining) == 0 {
		return nil
	}

	hostIDs := make([]int64, 0, len(remaining))
	infoByHost := make(map[int64]models.HostInfo, len(remaining))
	for _, inst := range remaining {
		if inst.HostID <= 0 {
			continue
		}
		hostIDs = append(hostIDs, inst.HostID)
		infoByHost[inst.HostID] = inst.InstanceInfo.Data()
	}
	if len(hostIDs) == 0 {
		return nil
	}

	rows, err := s.procs.FindByHostIDIn(ctx, hostIDs, models.ProcNameAgent, models.ProcSourceDefault)
	if err != nil {
		return fmt.Errorf("查询进程状态失败: %w", err)
	}

	survivors, stale := CollapseProcessStatus(rows)
	if len(stale) > 0 {
		if err := s.procs.DeleteByIDIn(ctx, stale); err != nil {
			return fmt.Errorf("清理重复进程记录失败: %w", err)
		}
		s.logger.Info("已收敛重复进程记录", zap.Int("deleted", len(stale)))
	}

	versions := s.fetchVersions(ctx, infoByHost)

	statusUpdates := make(map[int64]string)
	versionUpdates := make(map[int64]string)
	var missing []*models.ProcessStatus
	seen := make(map[int64]struct{}, len(survivors))
	for _, row := range survivors {
		seen[row.HostID] = struct{}{}
		if row.Status != s.status {
			statusUpdates[row.ID] = s.status
		}
		if v, ok := versions[row.HostID]; ok && v != "" && v != row.Version {
			versionUpdates[row.ID] = v
		}
	}
	for _, hostID := range hostIDs {
		if _, ok := seen[hostID]; ok {
			continue
		}
		missing = append(missing, &models.ProcessStatus{
			HostID:     hostID,
			Name:       models.ProcNameAgent,
			SourceType: models.ProcSourceDefault,
			Status:     s.status,
			Version:    versions[hostID],
		})
	}

	if len(missing) > 0 {
		if err := s.procs.BulkCreate(ctx, missing); err != nil {
			return fmt.Errorf("补建进程记录失败: %w", err)
		}
	}
	if len(statusUpdates) > 0 {
		if err := s.procs.BulkUpdateStatus(ctx, statusUpdates); err != nil {
			return fmt.Errorf("进程状态写回失败: %w", err)
		}
	}
	if len(versionUpdates) > 0 {
		if err := s.procs.BulkUpdateVersion(ctx, versionUpdates); err != nil {
			return fmt.Errorf("进程版本写回失败: %w", err)
		}
	}

	data.Tracker.LogInfo(ctx, instanceIDs(remaining),
		fmt.Sprintf("进程状态已刷新为 %s", s.status))
	return nil
}

// fetchVersions 向 GSE 查询各主机 Agent 版本，查询失败不阻断状态刷新
func (s *UpdateProcessStatusService) fetchVersions(ctx context.Context, infoByHost map[int64]models.HostInfo) map[int64]string {
	if len(infoByHost) == 0 {
		return nil
	}
	gseHosts := make([]adapter.GseHost, 0, len(infoByHost))
	for _, info := range infoByHost {
		gseHosts = append(gseHosts, adapter.GseHost{CloudID: info.CloudID, IP: info.LoginIP()})
	}
	infos, err := s.gse.GetAgentInfo(ctx, gseHosts)
	if err != nil {
		s.logger.Warn("Agent 版本查询失败", zap.Error(err))
		return nil
	}
	versions := make(map[int64]string, len(infos))
	for hostID, info := range infoByHost {
		if agent, ok := infos[adapter.HostKey(info.CloudID, info.LoginIP())]; ok {
			versions[hostID] = agent.Version
		}
	}
	return versions
}

// CollapseProcessStatus 按 (主机, 进程, 来源) 收敛重复行。
// 每组保留一行：优先运行中的行，否则 id 最小的行；返回保留行与待删行 id。
// 入参要求按 id 升序排列。
func CollapseProcessStatus(rows []models.ProcessStatus) ([]models.ProcessStatus, []int64) {
	type groupKey struct {
		hostID     int64
		name       string
		sourceType string
	}
	survivorByGroup := make(map[groupKey]models.ProcessStatus)
	var order []groupKey
	var stale []int64

	for _, row := range rows {
		key := groupKey{hostID: row.HostID, name: row.Name, sourceType: row.SourceType}
		current, ok := survivorByGroup[key]
		if !ok {
			survivorByGroup[key] = row
			order = append(order, key)
			continue
		}
		// 运行中的行优先胜出；同为非运行时 id 小者（先到者）保留
		if current.Status != models.ProcStatusRunning && row.Status == models.ProcStatusRunning {
			stale = append(stale, current.ID)
			survivorByGroup[key] = row
			continue
		}
		stale = append(stale, row.ID)
	}

	survivors := make([]models.ProcessStatus, 0, len(order))
	for _, key := range order {
		survivors = append(survivors, survivorByGroup[key])
	}
	return survivors, stale
}
