package adapter

import (
	"context"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/config"
)

// VaultFailure 单个主机的密码查询失败详情
type VaultFailure struct {
	Message string `json:"message"`
}

// VaultClient 第三方密码库适配器，按 (管控区域:IP) 批量查询托管密码
type VaultClient struct {
	api    *apiClient
	logger *zap.Logger
}

// NewVaultClient 创建密码库适配器
func NewVaultClient(cfg config.VaultConfig, logger *zap.Logger) *VaultClient {
	return &VaultClient{
		api:    newAPIClient(cfg.BaseURL, "", cfg.Timeout, logger),
		logger: logger,
	}
}

// GetPassword 批量查询托管密码。
// 返回逐主机的成功/失败映射（key 为 HostKey），整体失败时 err 非空。
func (c *VaultClient) GetPassword(ctx context.Context, creator string, cloudIPs []string, ticket string) (map[string]string, map[string]VaultFailure, error) {
	var result struct {
		Success map[string]string       `json:"success"`
		Failed  map[string]VaultFailure `json:"failed"`
	}
	body := map[string]interface{}{
		"creator":       creator,
		"cloud_ip_list": cloudIPs,
		"ticket":        ticket,
	}
	if err := c.api.post(ctx, "/api/v1/password", body, &result); err != nil {
		return nil, nil, err
	}
	return result.Success, result.Failed, nil
}
