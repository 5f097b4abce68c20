package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/concurrent"
	"github.com/dushixiang/nodeman/internal/config"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
	"github.com/dushixiang/nodeman/internal/remote"
)

// FileSpec 一个待推送的文件。LocalPath 与 Content 二选一：
// LocalPath 推送编排端本地文件，Content 直接写入渲染好的内容。
type FileSpec struct {
	LocalPath  string
	Content    []byte
	RemoteName string
}

// FileProvider 按主机提供待推送文件及目标目录（安装包、渲染后的配置等）
type FileProvider interface {
	Files(ctx context.Context, info models.HostInfo) ([]FileSpec, error)
	RemoteDir(info models.HostInfo) string
}

// PushFileService 向批次内每台主机推送一组文件。
// 文件推送只走 SSH 通道，无法建立 SFTP 的主机判失败；单机失败互不影响。
type PushFileService struct {
	engine.BaseService
	name     string
	logger   *zap.Logger
	dial     ConnDialer
	provider FileProvider
	sshCfg   config.SSHConfig
	concCfg  config.ConcurrencyConfig
}

// NewPushFileService 创建文件推送步骤
func NewPushFileService(logger *zap.Logger, dial ConnDialer, provider FileProvider,
	sshCfg config.SSHConfig, concCfg config.ConcurrencyConfig) *PushFileService {
	return &PushFileService{
		name:     "push_file",
		logger:   logger,
		dial:     dial,
		provider: provider,
		sshCfg:   sshCfg,
		concCfg:  concCfg,
	}
}

// NewPushConfigService 创建配置下发步骤：同一推送机制，
// provider 负责按主机渲染配置内容。
func NewPushConfigService(logger *zap.Logger, dial ConnDialer, provider FileProvider,
	sshCfg config.SSHConfig, concCfg config.ConcurrencyConfig) *PushFileService {
	s := NewPushFileService(logger, dial, provider, sshCfg, concCfg)
	s.name = "push_config"
	return s
}

func (s *PushFileService) Name() string {
	return s.name
}

func (s *PushFileService) Execute(ctx context.Context, data *engine.Data) error {
	instances := data.RemainingInstances()
	if len(instances) == 0 {
		return nil
	}

	_, _ = concurrent.BatchCall(ctx, instances,
		func(ctx context.Context, batch []models.SubscriptionInstance) ([]struct{}, error) {
			for _, inst := range batch {
				if err := s.pushOne(ctx, data, inst); err != nil {
					data.Tracker.MoveToFailed(ctx, []string{inst.ID}, err.Error())
				}
			}
			return nil, nil
		},
		concurrent.Options{
			BatchSize:       1,
			ParallelBatches: true,
		},
		concurrent.PoolExecutor{MaxWorkers: s.concCfg.MaxWorkers})
	return nil
}

// pushOne 向单台主机推送全部文件，任一失败立即返回
func (s *PushFileService) pushOne(ctx context.Context, data *engine.Data, inst models.SubscriptionInstance) error {
	info := inst.InstanceInfo.Data()

	specs, err := s.provider.Files(ctx, info)
	if err != nil {
		return fmt.Errorf("文件清单准备失败: %v", err)
	}
	if len(specs) == 0 {
		data.Tracker.LogInfo(ctx, []string{inst.ID}, "无需推送文件")
		return nil
	}

	if err := validateLogin(info); err != nil {
		return err
	}
	opts := dialOptions(info, s.sshCfg)
	conn, err := s.dial(opts, remote.ChannelSSH)
	if err != nil {
		return fmt.Errorf("建立 SSH 连接失败: %v", err)
	}
	defer conn.Close()

	fc, err := conn.FileClient()
	if err != nil {
		return fmt.Errorf("打开文件通道失败: %v", err)
	}
	defer fc.Close()

	remoteDir := s.provider.RemoteDir(info)
	if err := fc.Makedirs(ctx, remoteDir); err != nil {
		return fmt.Errorf("创建远端目录 %s 失败: %v", remoteDir, err)
	}

	for _, spec := range specs {
		if len(spec.Content) > 0 {
			remotePath := remoteDir + "/" + spec.RemoteName
			if err := fc.PutContent(ctx, spec.Content, remotePath); err != nil {
				return fmt.Errorf("写入 %s 失败: %v", remotePath, err)
			}
			continue
		}
		if err := fc.Put(ctx, []string{spec.LocalPath}, remoteDir); err != nil {
			return fmt.Errorf("推送 %s 失败: %v", spec.LocalPath, err)
		}
	}

	data.Tracker.LogInfo(ctx, []string{inst.ID},
		fmt.Sprintf("已推送 %d 个文件到 %s", len(specs), remoteDir))
	return nil
}
