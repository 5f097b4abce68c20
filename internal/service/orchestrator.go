package service

import (
	"context"
	"fmt"

	"github.com/go-orz/orz"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/dushixiang/nodeman/internal/adapter"
	"github.com/dushixiang/nodeman/internal/config"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
	"github.com/dushixiang/nodeman/internal/remote"
	"github.com/dushixiang/nodeman/internal/repo"
)

// Orchestrator 安装编排入口：装配存储、外部平台适配器与原子步骤，
// 对外提供批次创建与管道执行。
type Orchestrator struct {
	*orz.Service
	logger *zap.Logger
	cfg    *config.Config
	runner *engine.Runner

	hostRepo     *repo.HostRepo
	identityRepo *repo.IdentityRepo
	apRepo       *repo.AccessPointRepo
	cloudRepo    *repo.CloudRepo
	procRepo     *repo.ProcessStatusRepo
	instanceRepo *repo.InstanceRepo

	gse   *adapter.GseClient
	cmdb  *adapter.CmdbClient
	vault *adapter.VaultClient

	dial   ConnDialer
	prober LatencyProber
}

// NewOrchestrator 创建编排入口
func NewOrchestrator(logger *zap.Logger, db *gorm.DB, cfg *config.Config) *Orchestrator {
	dial := remote.Dial
	o := &Orchestrator{
		Service:      orz.NewService(db),
		logger:       logger,
		cfg:          cfg,
		runner:       engine.NewRunner(logger, cfg.Schedule.Interval, cfg.Schedule.PollTimeout),
		hostRepo:     repo.NewHostRepo(db),
		identityRepo: repo.NewIdentityRepo(db),
		apRepo:       repo.NewAccessPointRepo(db),
		cloudRepo:    repo.NewCloudRepo(db),
		procRepo:     repo.NewProcessStatusRepo(db),
		instanceRepo: repo.NewInstanceRepo(db),
		gse:          adapter.NewGseClient(cfg.GSE, logger),
		cmdb:         adapter.NewCmdbClient(cfg.CMDB, logger),
		vault:        adapter.NewVaultClient(cfg.Vault, logger),
		dial:         dial,
	}
	o.prober = NewRemoteProber(dial, cfg.SSH, cfg.Ping, logger)
	return o
}

// Start 启动轮询调度器
func (o *Orchestrator) Start() {
	o.runner.Start()
}

// Stop 停止轮询调度器并等待在途任务
func (o *Orchestrator) Stop() {
	o.runner.Stop()
}

// CreateInstances 为一批目标主机创建订阅实例并落库
func (o *Orchestrator) CreateInstances(ctx context.Context, subscriptionID int64, infos []models.HostInfo) ([]models.SubscriptionInstance, error) {
	instances := make([]*models.SubscriptionInstance, 0, len(infos))
	for _, info := range infos {
		instances = append(instances, &models.SubscriptionInstance{
			ID:             uuid.NewString(),
			SubscriptionID: subscriptionID,
			HostID:         info.HostID,
			InstanceInfo:   datatypes.NewJSONType(info),
			Status:         models.InstanceStatusPending,
		})
	}
	if err := o.instanceRepo.BulkCreate(ctx, instances); err != nil {
		return nil, fmt.Errorf("创建订阅实例失败: %w", err)
	}
	out := make([]models.SubscriptionInstance, 0, len(instances))
	for _, inst := range instances {
		out = append(out, *inst)
	}
	return out, nil
}

// NewBatch 为一组实例建立批次执行数据
func (o *Orchestrator) NewBatch(subscriptionID int64, instances []models.SubscriptionInstance) *engine.Data {
	return &engine.Data{
		SubscriptionID: subscriptionID,
		Instances:      instances,
		Tracker:        engine.NewTracker(instanceIDs(instances), o.instanceRepo, o.logger),
		Outputs:        make(map[string]interface{}),
	}
}

// InstallAgentPipeline 安装场景的原子步骤序列。
// provider 负责按主机提供安装包与安装脚本。
func (o *Orchestrator) InstallAgentPipeline(files FileProvider, script ScriptProvider) []engine.Service {
	return []engine.Service{
		NewQueryPasswordService(o.logger, o.vault, o.identityRepo),
		NewRegisterHostService(o.logger, o.cmdb, o.hostRepo, o.identityRepo, o.procRepo, o.instanceRepo, o, o.cfg.Concurrency),
		NewChooseAccessPointService(o.logger, o.hostRepo, o.cloudRepo, o.apRepo, o.procRepo, o.prober, o.cfg.Concurrency),
		NewPushFileService(o.logger, o.dial, files, o.cfg.SSH, o.cfg.Concurrency),
		NewExecuteScriptService("run_install_script", o.logger, o.dial, script, o.cfg.SSH, o.cfg.Concurrency),
		NewGetAgentStatusService(o.logger, o.gse, o.procRepo, true, o.cfg.Schedule),
		NewDelegatePluginProcService(o.logger, o.gse, o.apRepo, models.ProcNameAgent, o.cfg.Schedule),
		NewBindHostAgentService(o.logger, o.gse, o.cmdb, o.hostRepo),
		NewUpdateProcessStatusService(o.logger, o.gse, o.procRepo, models.ProcStatusRunning),
	}
}

// UninstallAgentPipeline 卸载场景的原子步骤序列
func (o *Orchestrator) UninstallAgentPipeline(script ScriptProvider) []engine.Service {
	return []engine.Service{
		NewQueryPasswordService(o.logger, o.vault, o.identityRepo),
		NewUndelegatePluginProcService(o.logger, o.gse, o.apRepo, models.ProcNameAgent, o.cfg.Schedule),
		NewExecuteScriptService("run_uninstall_script", o.logger, o.dial, script, o.cfg.SSH, o.cfg.Concurrency),
		NewGetAgentStatusService(o.logger, o.gse, o.procRepo, false, o.cfg.Schedule),
		NewUnbindHostAgentService(o.logger, o.gse, o.cmdb, o.hostRepo),
		NewUpdateProcessStatusService(o.logger, o.gse, o.procRepo, models.ProcStatusTerminated),
	}
}

// RestartAgentPipeline 重启场景的原子步骤序列
func (o *Orchestrator) RestartAgentPipeline(script ScriptProvider) []engine.Service {
	return []engine.Service{
		NewQueryPasswordService(o.logger, o.vault, o.identityRepo),
		NewExecuteScriptService("run_restart_script", o.logger, o.dial, script, o.cfg.SSH, o.cfg.Concurrency),
		NewGetAgentStatusService(o.logger, o.gse, o.procRepo, true, o.cfg.Schedule),
		NewUpdateProcessStatusService(o.logger, o.gse, o.procRepo, models.ProcStatusRunning),
	}
}

// RunPipeline 驱动批次走完管道并回写实例终态。
// 步骤级致命错误已由引擎转化为整批失败，这里不再向上传播。
func (o *Orchestrator) RunPipeline(ctx context.Context, services []engine.Service, data *engine.Data) error {
	ids := data.Tracker.Initial()
	if len(services) > 0 {
		if err := o.instanceRepo.UpdateStep(ctx, ids, services[0].Name(), models.InstanceStatusRunning); err != nil {
			return fmt.Errorf("实例状态初始化失败: %w", err)
		}
	}

	runErr := o.runner.Run(ctx, services, data)

	lastStep := ""
	if len(services) > 0 {
		lastStep = services[len(services)-1].Name()
	}
	if remaining := data.Tracker.Remaining(); len(remaining) > 0 {
		if err := o.instanceRepo.UpdateStep(ctx, remaining, lastStep, models.InstanceStatusSuccess); err != nil {
			o.logger.Error("实例成功状态写回失败", zap.Error(err))
		}
	}
	if failed := data.Tracker.FailedReasons(); len(failed) > 0 {
		failedIDs := make([]string, 0, len(failed))
		for id := range failed {
			failedIDs = append(failedIDs, id)
		}
		if err := o.instanceRepo.UpdateStep(ctx, failedIDs, lastStep, models.InstanceStatusFailed); err != nil {
			o.logger.Error("实例失败状态写回失败", zap.Error(err))
		}
	}
	return runErr
}
