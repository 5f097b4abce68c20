package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/adapter"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
)

// BindHostAgentService 把主机与其 AgentID 的绑定关系同步到 CMDB。
// 本地缺失 AgentID 时先向 GSE 查询补齐；拿不到 AgentID 的主机
// 退化使用 (管控区域:IP) 形式的兼容标识。
type BindHostAgentService struct {
	engine.BaseService
	name   string
	logger *zap.Logger
	gse    GseAPI
	cmdb   CmdbAPI
	hosts  HostStore
	unbind bool
}

// NewBindHostAgentService 创建 Agent 绑定步骤
func NewBindHostAgentService(logger *zap.Logger, gse GseAPI, cmdb CmdbAPI, hosts HostStore) *BindHostAgentService {
	return &BindHostAgentService{
		name:   "bind_host_agent",
		logger: logger,
		gse:    gse,
		cmdb:   cmdb,
		hosts:  hosts,
	}
}

// NewUnbindHostAgentService 创建 Agent 解绑步骤（卸载场景）
func NewUnbindHostAgentService(logger *zap.Logger, gse GseAPI, cmdb CmdbAPI, hosts HostStore) *BindHostAgentService {
	s := NewBindHostAgentService(logger, gse, cmdb, hosts)
	s.name = "unbind_host_agent"
	s.unbind = true
	return s
}

func (s *BindHostAgentService) Name() string {
	return s.name
}

func (s *BindHostAgentService) Execute(ctx context.Context, data *engine.Data) error {
	remaining := data.RemainingInstances()
	if len(remaining) == 0 {
		return nil
	}

	hostIDs := make([]int64, 0, len(remaining))
	instByHost := make(map[int64]string, len(remaining))
	for _, inst := range remaining {
		if inst.HostID <= 0 {
			data.Tracker.MoveToFailed(ctx, []string{inst.ID}, "实例未挂接主机，无法同步 Agent 绑定")
			continue
		}
		hostIDs = append(hostIDs, inst.HostID)
		instByHost[inst.HostID] = inst.ID
	}
	if len(hostIDs) == 0 {
		return nil
	}

	hosts, err := s.hosts.FindByIDIn(ctx, hostIDs)
	if err != nil {
		return fmt.Errorf("查询主机失败: %w", err)
	}

	agentIDs := s.resolveAgentIDs(ctx, hosts)

	relations := make([]adapter.HostAgentRelation, 0, len(hosts))
	agentIDUpdates := make(map[int64]string)
	var affected []string
	for _, h := range hosts {
		agentID := agentIDs[h.ID]
		relations = append(relations, adapter.HostAgentRelation{HostID: h.ID, AgentID: agentID})
		if !s.unbind && agentID != h.AgentID {
			agentIDUpdates[h.ID] = agentID
		}
		if instID, ok := instByHost[h.ID]; ok {
			affected = append(affected, instID)
		}
	}

	if s.unbind {
		err = s.cmdb.UnbindHostAgent(ctx, relations)
	} else {
		err = s.cmdb.BindHostAgent(ctx, relations)
	}
	if err != nil {
		data.Tracker.MoveToFailed(ctx, affected, fmt.Sprintf("Agent 绑定同步失败: %v", err))
		return nil
	}

	if len(agentIDUpdates) > 0 {
		if err := s.hosts.BulkUpdateAgentID(ctx, agentIDUpdates); err != nil {
			s.logger.Error("AgentID 回写失败", zap.Error(err))
		}
	}
	data.Tracker.LogInfo(ctx, affected, "Agent 绑定关系已同步")
	return nil
}

// resolveAgentIDs 为每台主机确定 AgentID：本地已有的直接用，
// 缺失的向 GSE 查询，仍拿不到的用 (管控区域:IP) 兼容标识
func (s *BindHostAgentService) resolveAgentIDs(ctx context.Context, hosts []models.Host) map[int64]string {
	agentIDs := make(map[int64]string, len(hosts))
	var missing []models.Host
	for _, h := range hosts {
		if h.AgentID != "" {
			agentIDs[h.ID] = h.AgentID
			continue
		}
		missing = append(missing, h)
	}

	if len(missing) > 0 {
		gseHosts := make([]adapter.GseHost, 0, len(missing))
		for _, h := range missing {
			gseHosts = append(gseHosts, adapter.GseHost{CloudID: h.CloudID, IP: h.LoginIP()})
		}
		infos, err := s.gse.GetAgentInfo(ctx, gseHosts)
		if err != nil {
			s.logger.Warn("AgentID 查询失败，使用兼容标识", zap.Error(err))
		}
		for _, h := range missing {
			key := adapter.HostKey(h.CloudID, h.LoginIP())
			if info, ok := infos[key]; ok && info.AgentID != "" {
				agentIDs[h.ID] = info.AgentID
				continue
			}
			// V1 协议 Agent 没有独立 AgentID，沿用 (管控区域:IP)
			agentIDs[h.ID] = key
		}
	}
	return agentIDs
}
