package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/dushixiang/nodeman/internal/adapter"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
)

// QueryPasswordService 为铁将军托管认证的实例向第三方密码库取回登录密码。
// 查回的密码写入实例快照供后续步骤登录使用，并回写凭据存储；
// 其它认证方式的实例原样放行。
type QueryPasswordService struct {
	engine.BaseService
	logger     *zap.Logger
	vault      VaultAPI
	identities IdentityStore
}

// NewQueryPasswordService 创建密码查询步骤
func NewQueryPasswordService(logger *zap.Logger, vault VaultAPI, identities IdentityStore) *QueryPasswordService {
	return &QueryPasswordService{logger: logger, vault: vault, identities: identities}
}

func (s *QueryPasswordService) Name() string {
	return "query_password"
}

func (s *QueryPasswordService) Execute(ctx context.Context, data *engine.Data) error {
	instances := data.RemainingInstances()

	// 按 (管控区域:IP) 归组铁将军实例，一次批量查询
	targets := make(map[string][]string) // HostKey -> instanceIDs
	var creator, ticket string
	var tjjIDs []string
	for _, inst := range instances {
		info := inst.InstanceInfo.Data()
		if info.AuthType != models.AuthTypeTjjPassword {
			continue
		}
		key := adapter.HostKey(info.CloudID, info.LoginIP())
		targets[key] = append(targets[key], inst.ID)
		tjjIDs = append(tjjIDs, inst.ID)
		if creator == "" {
			creator = info.Creator
		}
		if ticket == "" {
			ticket = info.Ticket
		}
	}
	if len(targets) == 0 {
		return nil
	}

	cloudIPs := make([]string, 0, len(targets))
	for key := range targets {
		cloudIPs = append(cloudIPs, key)
	}

	success, failed, err := s.vault.GetPassword(ctx, creator, cloudIPs, ticket)
	if err != nil {
		// 密码库整体不可用只影响铁将军实例，其余实例不受牵连
		data.Tracker.MoveToFailed(ctx, tjjIDs, fmt.Sprintf("密码库查询失败: %v", err))
		return nil
	}

	var upserts []*models.IdentityData
	for i := range data.Instances {
		inst := &data.Instances[i]
		if !data.Tracker.IsRemaining(inst.ID) {
			continue
		}
		info := inst.InstanceInfo.Data()
		if info.AuthType != models.AuthTypeTjjPassword {
			continue
		}
		key := adapter.HostKey(info.CloudID, info.LoginIP())

		if failure, ok := failed[key]; ok {
			data.Tracker.MoveToFailed(ctx, []string{inst.ID},
				fmt.Sprintf("密码库未返回密码: %s", failure.Message))
			continue
		}
		password, ok := success[key]
		if !ok {
			data.Tracker.MoveToFailed(ctx, []string{inst.ID}, "密码库未返回该主机的查询结果")
			continue
		}

		// 后续步骤从同一批次数据取快照，密码就地写回
		info.Password = password
		inst.InstanceInfo = datatypes.NewJSONType(info)
		data.Tracker.LogInfo(ctx, []string{inst.ID}, "已从密码库取回登录密码")

		if inst.HostID > 0 {
			upserts = append(upserts, &models.IdentityData{
				HostID:   inst.HostID,
				AuthType: info.AuthType,
				Account:  info.Account,
				Password: password,
				Port:     info.Port,
			})
		}
	}

	if len(upserts) > 0 {
		if err := s.identities.BulkUpsert(ctx, upserts); err != nil {
			s.logger.Error("凭据回写失败", zap.Error(err))
		}
	}
	return nil
}
