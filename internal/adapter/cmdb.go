package adapter

import (
	"context"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/config"
)

// CmdbHost CMDB 侧的主机记录
type CmdbHost struct {
	HostID    int64  `json:"bk_host_id"`
	InnerIP   string `json:"bk_host_innerip"`
	InnerIPv6 string `json:"bk_host_innerip_v6,omitempty"`
	CloudID   int64  `json:"bk_cloud_id"`
	OSType    string `json:"bk_os_type"`
	AgentID   string `json:"bk_agent_id,omitempty"`
}

// CmdbHostFilter 主机查询条件
type CmdbHostFilter struct {
	CloudID  int64    `json:"bk_cloud_id"`
	InnerIPs []string `json:"bk_host_innerip"`
}

// HostBizRelation 主机与业务的归属关系
type HostBizRelation struct {
	HostID int64 `json:"bk_host_id"`
	BizID  int64 `json:"bk_biz_id"`
}

// HostAgentRelation 主机与 Agent 的绑定关系
type HostAgentRelation struct {
	HostID  int64  `json:"bk_host_id"`
	AgentID string `json:"bk_agent_id"`
}

// CmdbClient 配置平台适配器
type CmdbClient struct {
	api    *apiClient
	logger *zap.Logger
}

// NewCmdbClient 创建 CMDB 适配器
func NewCmdbClient(cfg config.CMDBConfig, logger *zap.Logger) *CmdbClient {
	return &CmdbClient{
		api:    newAPIClient(cfg.BaseURL, cfg.Token, cfg.Timeout, logger),
		logger: logger,
	}
}

// ListHostsWithoutBiz 查询资源池（无业务归属）中匹配的主机
func (c *CmdbClient) ListHostsWithoutBiz(ctx context.Context, filter CmdbHostFilter) ([]CmdbHost, error) {
	var result struct {
		Info []CmdbHost `json:"info"`
	}
	err := c.api.post(ctx, "/api/v3/hosts/list_hosts_without_biz", filter, &result)
	return result.Info, err
}

// ListBizHosts 查询业务下匹配的主机
func (c *CmdbClient) ListBizHosts(ctx context.Context, bizID int64, filter CmdbHostFilter) ([]CmdbHost, error) {
	var result struct {
		Info []CmdbHost `json:"info"`
	}
	body := map[string]interface{}{"bk_biz_id": bizID, "filter": filter}
	err := c.api.post(ctx, "/api/v3/hosts/list_biz_hosts", body, &result)
	return result.Info, err
}

// AddHostToResource 向业务注册新主机，返回分配的主机 ID（与入参同序）
func (c *CmdbClient) AddHostToResource(ctx context.Context, bizID int64, hosts []CmdbHost) ([]int64, error) {
	var result struct {
		HostIDs []int64 `json:"bk_host_ids"`
	}
	body := map[string]interface{}{"bk_biz_id": bizID, "host_info": hosts}
	err := c.api.post(ctx, "/api/v3/hosts/add_host_to_resource", body, &result)
	return result.HostIDs, err
}

// FindHostBizRelations 查询主机的业务归属关系
func (c *CmdbClient) FindHostBizRelations(ctx context.Context, hostIDs []int64) ([]HostBizRelation, error) {
	var result []HostBizRelation
	body := map[string]interface{}{"bk_host_id": hostIDs}
	err := c.api.post(ctx, "/api/v3/hosts/find_host_biz_relations", body, &result)
	return result, err
}

// BindHostAgent 绑定主机与 Agent
func (c *CmdbClient) BindHostAgent(ctx context.Context, relations []HostAgentRelation) error {
	body := map[string]interface{}{"list": relations}
	return c.api.post(ctx, "/api/v3/hosts/bind_host_agent", body, nil)
}

// UnbindHostAgent 解绑主机与 Agent
func (c *CmdbClient) UnbindHostAgent(ctx context.Context, relations []HostAgentRelation) error {
	body := map[string]interface{}{"list": relations}
	return c.api.post(ctx, "/api/v3/hosts/unbind_host_agent", body, nil)
}
