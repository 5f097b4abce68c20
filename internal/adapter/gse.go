package adapter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/config"
)

// GSE 任务结果码，取值来自 GSE 接口文档，作为不透明枚举携带，不做数值推断。
const (
	GseCodeSuccess        = 0       // 执行成功
	GseCodeRunning        = 115     // 任务执行中
	GseCodePendingEnqueue = 1000115 // 任务尚未入队
	GseCodeAgentAbnormal  = 117     // Agent 状态异常
)

// HostKey GSE 侧的主机标识 (管控区域:IP)
func HostKey(cloudID int64, ip string) string {
	return fmt.Sprintf("%d:%s", cloudID, ip)
}

// ProcKey GSE 侧的进程标识 (管控区域:IP:进程名)
func ProcKey(cloudID int64, ip, procName string) string {
	return fmt.Sprintf("%d:%s:%s", cloudID, ip, procName)
}

// GseHost GSE 接口的主机参数
type GseHost struct {
	CloudID int64  `json:"bk_cloud_id"`
	IP      string `json:"ip"`
	AgentID string `json:"bk_agent_id,omitempty"`
}

// AgentInfo Agent 注册信息
type AgentInfo struct {
	AgentID string `json:"bk_agent_id"` // V2 协议分配的 AgentID，V1 为空
	Version string `json:"version"`
}

// AgentStatus Agent 存活状态
type AgentStatus struct {
	Alive bool `json:"alive"`
}

// ProcInfoSpec 进程注册信息
type ProcInfoSpec struct {
	Hosts     []GseHost         `json:"hosts"`
	ProcName  string            `json:"proc_name"`
	SetupPath string            `json:"setup_path"`
	PidPath   string            `json:"pid_path"`
	User      string            `json:"user"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// ProcOperateSpec 进程操作请求
type ProcOperateSpec struct {
	Hosts    []GseHost `json:"hosts"`
	ProcName string    `json:"proc_name"`
	OpType   int       `json:"op_type"`
}

// 进程操作类型
const (
	ProcOpStart      = 0 // 启动
	ProcOpStop       = 1 // 停止
	ProcOpDelegate   = 2 // 托管
	ProcOpUndelegate = 3 // 取消托管
	ProcOpRestart    = 7 // 重启
)

// ProcResult 单个进程的操作结果
type ProcResult struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// ProcOperateResult 进程操作任务的整体结果
type ProcOperateResult struct {
	Code int                   `json:"code"`
	Data map[string]ProcResult `json:"data"` // key: ProcKey
}

// GseClient GSE 管控平台适配器
type GseClient struct {
	api    *apiClient
	logger *zap.Logger
}

// NewGseClient 创建 GSE 适配器
func NewGseClient(cfg config.GSEConfig, logger *zap.Logger) *GseClient {
	return &GseClient{
		api:    newAPIClient(cfg.BaseURL, cfg.Token, cfg.Timeout, logger),
		logger: logger,
	}
}

// GetAgentInfo 查询一批主机的 Agent 版本，key 为 HostKey
func (c *GseClient) GetAgentInfo(ctx context.Context, hosts []GseHost) (map[string]AgentInfo, error) {
	var result map[string]AgentInfo
	err := c.api.post(ctx, "/api/v2/agent/info", map[string]interface{}{"hosts": hosts}, &result)
	return result, err
}

// GetAgentStatus 查询一批主机的 Agent 存活状态，key 为 HostKey
func (c *GseClient) GetAgentStatus(ctx context.Context, hosts []GseHost) (map[string]AgentStatus, error) {
	var result map[string]AgentStatus
	err := c.api.post(ctx, "/api/v2/agent/status", map[string]interface{}{"hosts": hosts}, &result)
	return result, err
}

// UpdateProcInfo 注册/更新托管进程信息，key 为 ProcKey
func (c *GseClient) UpdateProcInfo(ctx context.Context, spec ProcInfoSpec) (map[string]ProcResult, error) {
	var result map[string]ProcResult
	err := c.api.post(ctx, "/api/v2/proc/update", spec, &result)
	return result, err
}

// OperateProc 下发进程操作，返回任务句柄
func (c *GseClient) OperateProc(ctx context.Context, spec ProcOperateSpec) (string, error) {
	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := c.api.post(ctx, "/api/v2/proc/operate", spec, &result); err != nil {
		return "", err
	}
	return result.TaskID, nil
}

// GetProcOperateResult 查询进程操作任务结果
func (c *GseClient) GetProcOperateResult(ctx context.Context, taskID string) (*ProcOperateResult, error) {
	var result ProcOperateResult
	err := c.api.post(ctx, "/api/v2/proc/operate_result", map[string]string{"task_id": taskID}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
