package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dushixiang/nodeman/internal/adapter"
	"github.com/dushixiang/nodeman/internal/config"
	"github.com/dushixiang/nodeman/internal/models"
	"github.com/dushixiang/nodeman/internal/remote"
)

// 存储接口按步骤所需收窄定义（由 repo 层实现，避免步骤依赖 ORM 细节）

// HostStore 主机存储
type HostStore interface {
	FindByIDIn(ctx context.Context, ids []int64) ([]models.Host, error)
	FindByCloudInnerIP(ctx context.Context, cloudID int64, innerIP string) (*models.Host, error)
	FindProxiesByCloudID(ctx context.Context, cloudID int64) ([]models.Host, error)
	BulkCreate(ctx context.Context, hosts []*models.Host) error
	BulkUpdateAccessPointID(ctx context.Context, apIDByHost map[int64]int64) error
	BulkUpdateAgentID(ctx context.Context, agentIDByHost map[int64]string) error
}

// IdentityStore 登录凭据存储
type IdentityStore interface {
	BulkUpsert(ctx context.Context, identities []*models.IdentityData) error
}

// AccessPointStore 接入点存储
type AccessPointStore interface {
	FindAll(ctx context.Context) ([]models.AccessPoint, error)
}

// CloudStore 管控区域存储
type CloudStore interface {
	FindByID(ctx context.Context, id int64) (*models.Cloud, error)
	FindByIDIn(ctx context.Context, ids []int64) ([]models.Cloud, error)
}

// ProcessStatusStore 托管进程状态存储
type ProcessStatusStore interface {
	FindByHostIDIn(ctx context.Context, hostIDs []int64, name, sourceType string) ([]models.ProcessStatus, error)
	BulkCreate(ctx context.Context, rows []*models.ProcessStatus) error
	BulkUpdateStatus(ctx context.Context, updates map[int64]string) error
	BulkUpdateVersion(ctx context.Context, versions map[int64]string) error
	DeleteByIDIn(ctx context.Context, ids []int64) error
}

// InstanceStore 订阅实例存储
type InstanceStore interface {
	UpdateHostID(ctx context.Context, hostIDByInstance map[string]int64) error
}

// Transactor 批级事务边界（orz.Service 提供实现）
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// GseAPI GSE 管控平台接口
type GseAPI interface {
	GetAgentInfo(ctx context.Context, hosts []adapter.GseHost) (map[string]adapter.AgentInfo, error)
	GetAgentStatus(ctx context.Context, hosts []adapter.GseHost) (map[string]adapter.AgentStatus, error)
	UpdateProcInfo(ctx context.Context, spec adapter.ProcInfoSpec) (map[string]adapter.ProcResult, error)
	OperateProc(ctx context.Context, spec adapter.ProcOperateSpec) (string, error)
	GetProcOperateResult(ctx context.Context, taskID string) (*adapter.ProcOperateResult, error)
}

// CmdbAPI 配置平台接口
type CmdbAPI interface {
	ListHostsWithoutBiz(ctx context.Context, filter adapter.CmdbHostFilter) ([]adapter.CmdbHost, error)
	ListBizHosts(ctx context.Context, bizID int64, filter adapter.CmdbHostFilter) ([]adapter.CmdbHost, error)
	AddHostToResource(ctx context.Context, bizID int64, hosts []adapter.CmdbHost) ([]int64, error)
	FindHostBizRelations(ctx context.Context, hostIDs []int64) ([]adapter.HostBizRelation, error)
	BindHostAgent(ctx context.Context, relations []adapter.HostAgentRelation) error
	UnbindHostAgent(ctx context.Context, relations []adapter.HostAgentRelation) error
}

// VaultAPI 第三方密码库接口
type VaultAPI interface {
	GetPassword(ctx context.Context, creator string, cloudIPs []string, ticket string) (map[string]string, map[string]adapter.VaultFailure, error)
}

// ConnDialer 远程连接工厂，测试时替换
type ConnDialer func(opts remote.Options, channel remote.Channel) (remote.Conn, error)

var loginValidate = validator.New()

// validateLogin 发起远程操作前校验登录信息完整性，缺失凭据不发起连接
func validateLogin(info models.HostInfo) error {
	if err := loginValidate.Struct(info); err != nil {
		return fmt.Errorf("登录信息校验失败: %v", err)
	}
	switch info.AuthType {
	case models.AuthTypePassword, models.AuthTypeTjjPassword:
		if info.Account == "" || info.Password == "" {
			return fmt.Errorf("密码认证缺少登录账号或密码")
		}
	case models.AuthTypeKey:
		if info.Account == "" || info.Key == "" {
			return fmt.Errorf("密钥认证缺少登录账号或密钥")
		}
	}
	return nil
}

// dialOptions 从实例快照构造远程连接参数
func dialOptions(info models.HostInfo, cfg config.SSHConfig) remote.Options {
	port := info.Port
	if port <= 0 {
		port = cfg.DefaultPort
	}
	return remote.Options{
		Host:           info.LoginIP(),
		Port:           port,
		Account:        info.Account,
		Password:       info.Password,
		Key:            info.Key,
		OSType:         info.OSType,
		ConnectTimeout: cfg.ConnectTimeout,
	}
}

// instanceIDs 提取实例 ID 列表
func instanceIDs(instances []models.SubscriptionInstance) []string {
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}
	return ids
}
