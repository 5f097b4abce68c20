package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/concurrent"
	"github.com/dushixiang/nodeman/internal/config"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
	"github.com/dushixiang/nodeman/internal/remote"
)

// ScriptProvider 按主机渲染待执行的命令（安装、卸载、重启脚本等）
type ScriptProvider interface {
	Script(ctx context.Context, info models.HostInfo) (string, error)
}

// ExecuteScriptService 在批次内每台主机上执行脚本。
// 通道按存活探测结果选择（SSH 或 Windows 管理通道），非特权账号自动加提权前缀；
// 批间强制串行并携带提交间隔，避免打爆目标侧登录服务。
type ExecuteScriptService struct {
	engine.BaseService
	name     string
	logger   *zap.Logger
	dial     ConnDialer
	provider ScriptProvider
	sshCfg   config.SSHConfig
	concCfg  config.ConcurrencyConfig
}

// NewExecuteScriptService 创建脚本执行步骤
func NewExecuteScriptService(name string, logger *zap.Logger, dial ConnDialer,
	provider ScriptProvider, sshCfg config.SSHConfig, concCfg config.ConcurrencyConfig) *ExecuteScriptService {
	return &ExecuteScriptService{
		name:     name,
		logger:   logger,
		dial:     dial,
		provider: provider,
		sshCfg:   sshCfg,
		concCfg:  concCfg,
	}
}

func (s *ExecuteScriptService) Name() string {
	return s.name
}

func (s *ExecuteScriptService) Execute(ctx context.Context, data *engine.Data) error {
	instances := data.RemainingInstances()
	if len(instances) == 0 {
		return nil
	}

	_, _ = concurrent.BatchCall(ctx, instances,
		func(ctx context.Context, batch []models.SubscriptionInstance) ([]struct{}, error) {
			for _, inst := range batch {
				if err := s.runOne(ctx, data, inst); err != nil {
					data.Tracker.MoveToFailed(ctx, []string{inst.ID}, err.Error())
				}
			}
			return nil, nil
		},
		concurrent.Options{
			BatchSize:           s.concCfg.BatchSize,
			ParallelBatches:     false,
			InterSubmitInterval: s.concCfg.InterSubmitInterval,
		},
		nil)
	return nil
}

// runOne 在单台主机上执行脚本，非零退出或输出异常判失败
func (s *ExecuteScriptService) runOne(ctx context.Context, data *engine.Data, inst models.SubscriptionInstance) error {
	info := inst.InstanceInfo.Data()

	script, err := s.provider.Script(ctx, info)
	if err != nil {
		return fmt.Errorf("脚本渲染失败: %v", err)
	}
	if script == "" {
		data.Tracker.LogInfo(ctx, []string{inst.ID}, "无需执行脚本")
		return nil
	}

	if err := validateLogin(info); err != nil {
		return err
	}
	opts := dialOptions(info, s.sshCfg)
	channel := remote.DetectChannel(opts, s.sshCfg.ConnectTimeout)
	conn, err := s.dial(opts, channel)
	if err != nil {
		return fmt.Errorf("建立远程连接失败: %v", err)
	}
	defer conn.Close()

	cmd := remote.SudoCommand(info.Account, info.OSType, script)
	out, err := conn.Run(ctx, cmd, true, s.sshCfg.CommandTimeout)
	if err != nil {
		return fmt.Errorf("脚本执行失败: %v", err)
	}

	if stdout := strings.TrimSpace(out.Stdout); stdout != "" {
		data.Tracker.LogInfo(ctx, []string{inst.ID}, stdout)
	}
	if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
		data.Tracker.LogWarning(ctx, []string{inst.ID}, stderr)
	}
	data.Tracker.LogInfo(ctx, []string{inst.ID}, "脚本执行完成")
	return nil
}
