package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/dushixiang/nodeman/internal/adapter"
	"github.com/dushixiang/nodeman/internal/concurrent"
	"github.com/dushixiang/nodeman/internal/config"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
)

// RegisterHostService 把批次内主机注册进 CMDB 并建立本地镜像。
// 先在期望业务下按 (管控区域, 内网IP) 解析已有主机，再查资源池并校验业务归属，
// 都未命中时注册为新主机；解析到异属业务的实例判失败。
// 本地镜像（主机、凭据、进程初始行、实例挂接）在一个事务内落库。
type RegisterHostService struct {
	engine.BaseService
	logger     *zap.Logger
	cmdb       CmdbAPI
	hosts      HostStore
	identities IdentityStore
	procs      ProcessStatusStore
	instances  InstanceStore
	tx         Transactor
	concCfg    config.ConcurrencyConfig
}

// NewRegisterHostService 创建主机注册步骤
func NewRegisterHostService(logger *zap.Logger, cmdb CmdbAPI, hosts HostStore,
	identities IdentityStore, procs ProcessStatusStore, instances InstanceStore,
	tx Transactor, concCfg config.ConcurrencyConfig) *RegisterHostService {
	return &RegisterHostService{
		logger:     logger,
		cmdb:       cmdb,
		hosts:      hosts,
		identities: identities,
		procs:      procs,
		instances:  instances,
		tx:         tx,
		concCfg:    concCfg,
	}
}

func (s *RegisterHostService) Name() string {
	return "register_host"
}

// resolveResult 单实例的 CMDB 解析结果
type resolveResult struct {
	instanceID string
	hostID     int64
	failReason string
}

func (s *RegisterHostService) Execute(ctx context.Context, data *engine.Data) error {
	instances := data.RemainingInstances()
	if len(instances) == 0 {
		return nil
	}

	// CMDB 解析按实例并发展开，单实例失败不影响其余实例
	results, _ := concurrent.BatchCall(ctx, instances,
		func(ctx context.Context, batch []models.SubscriptionInstance) ([]resolveResult, error) {
			out := make([]resolveResult, 0, len(batch))
			for _, inst := range batch {
				hostID, err := s.resolveHostID(ctx, inst.InstanceInfo.Data())
				if err != nil {
					out = append(out, resolveResult{instanceID: inst.ID, failReason: err.Error()})
					continue
				}
				out = append(out, resolveResult{instanceID: inst.ID, hostID: hostID})
			}
			return out, nil
		},
		concurrent.Options{BatchSize: 1, ParallelBatches: true},
		concurrent.PoolExecutor{MaxWorkers: s.concCfg.MaxWorkers})

	hostIDByInstance := make(map[string]int64, len(results))
	for _, r := range results {
		if r.failReason != "" {
			data.Tracker.MoveToFailed(ctx, []string{r.instanceID}, r.failReason)
			continue
		}
		hostIDByInstance[r.instanceID] = r.hostID
	}

	for i := range data.Instances {
		inst := &data.Instances[i]
		hostID, ok := hostIDByInstance[inst.ID]
		if !ok {
			continue
		}
		if inst.HostID != hostID {
			inst.HostID = hostID
			hostInfo := inst.InstanceInfo.Data()
			hostInfo.HostID = hostID
			inst.InstanceInfo = datatypes.NewJSONType(hostInfo)
		}
		data.Tracker.LogInfo(ctx, []string{inst.ID},
			fmt.Sprintf("主机已注册，主机 ID %d", hostID))
	}

	if len(hostIDByInstance) == 0 {
		return nil
	}
	if err := s.persistMirror(ctx, data, hostIDByInstance); err != nil {
		return fmt.Errorf("主机镜像落库失败: %w", err)
	}
	return nil
}

// resolveHostID 解析实例对应的 CMDB 主机 ID，重复执行返回同一结果
func (s *RegisterHostService) resolveHostID(ctx context.Context, info models.HostInfo) (int64, error) {
	filter := adapter.CmdbHostFilter{
		CloudID:  info.CloudID,
		InnerIPs: []string{info.InnerIP},
	}

	// 期望业务内查找
	found, err := s.cmdb.ListBizHosts(ctx, info.BizID, filter)
	if err != nil {
		return 0, fmt.Errorf("查询业务主机失败: %v", err)
	}
	if len(found) > 0 {
		return found[0].HostID, nil
	}

	// 跨业务查找并校验归属
	global, err := s.cmdb.ListHostsWithoutBiz(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("查询全量主机失败: %v", err)
	}
	if len(global) > 0 {
		hostID := global[0].HostID
		relations, err := s.cmdb.FindHostBizRelations(ctx, []int64{hostID})
		if err != nil {
			return 0, fmt.Errorf("查询主机业务归属失败: %v", err)
		}
		for _, rel := range relations {
			if rel.BizID != 0 && rel.BizID != info.BizID {
				return 0, fmt.Errorf("主机已归属业务 %d，与期望业务 %d 不符", rel.BizID, info.BizID)
			}
		}
		return hostID, nil
	}

	// 注册为新主机
	hostIDs, err := s.cmdb.AddHostToResource(ctx, info.BizID, []adapter.CmdbHost{{
		InnerIP:   info.InnerIP,
		InnerIPv6: info.InnerIPv6,
		CloudID:   info.CloudID,
		OSType:    info.OSType,
	}})
	if err != nil {
		return 0, fmt.Errorf("注册新主机失败: %v", err)
	}
	if len(hostIDs) != 1 {
		return 0, fmt.Errorf("注册新主机返回了 %d 个主机 ID", len(hostIDs))
	}
	return hostIDs[0], nil
}

// persistMirror 在一个事务内写入本地主机镜像、登录凭据、进程初始行并挂接实例
func (s *RegisterHostService) persistMirror(ctx context.Context, data *engine.Data, hostIDByInstance map[string]int64) error {
	return s.tx.Transaction(ctx, func(ctx context.Context) error {
		var newHosts []*models.Host
		var identities []*models.IdentityData
		var hostIDs []int64

		for i := range data.Instances {
			inst := &data.Instances[i]
			hostID, ok := hostIDByInstance[inst.ID]
			if !ok {
				continue
			}
			info := inst.InstanceInfo.Data()
			hostIDs = append(hostIDs, hostID)

			existing, err := s.hosts.FindByCloudInnerIP(ctx, info.CloudID, info.InnerIP)
			if err != nil {
				return err
			}
			if existing == nil {
				newHosts = append(newHosts, &models.Host{
					ID:        hostID,
					BizID:     info.BizID,
					InnerIP:   info.InnerIP,
					InnerIPv6: info.InnerIPv6,
					CloudID:   info.CloudID,
					OSType:    info.OSType,
					NodeType:  info.NodeType,
				})
			}

			identities = append(identities, &models.IdentityData{
				HostID:   hostID,
				AuthType: info.AuthType,
				Account:  info.Account,
				Password: info.Password,
				Key:      info.Key,
				Port:     info.Port,
			})
		}

		if len(newHosts) > 0 {
			if err := s.hosts.BulkCreate(ctx, newHosts); err != nil {
				return err
			}
		}
		if err := s.identities.BulkUpsert(ctx, identities); err != nil {
			return err
		}
		if err := s.ensureProcRows(ctx, hostIDs); err != nil {
			return err
		}
		return s.instances.UpdateHostID(ctx, hostIDByInstance)
	})
}

// ensureProcRows 为尚无 Agent 进程记录的主机补一条未安装初始行
func (s *RegisterHostService) ensureProcRows(ctx context.Context, hostIDs []int64) error {
	rows, err := s.procs.FindByHostIDIn(ctx, hostIDs, models.ProcNameAgent, models.ProcSourceDefault)
	if err != nil {
		return err
	}
	seen := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		seen[row.HostID] = struct{}{}
	}

	var missing []*models.ProcessStatus
	added := make(map[int64]struct{})
	for _, hostID := range hostIDs {
		if _, ok := seen[hostID]; ok {
			continue
		}
		if _, ok := added[hostID]; ok {
			continue
		}
		added[hostID] = struct{}{}
		missing = append(missing, &models.ProcessStatus{
			HostID:     hostID,
			Name:       models.ProcNameAgent,
			SourceType: models.ProcSourceDefault,
			Status:     models.ProcStatusNotInstalled,
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return s.procs.BulkCreate(ctx, missing)
}
