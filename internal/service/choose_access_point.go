package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-orz/cache"
	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/concurrent"
	"github.com/dushixiang/nodeman/internal/config"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
	"github.com/dushixiang/nodeman/internal/remote"
)

const accessPointCacheKey = "access_points:all"

// LatencyProber 主机到接入点的延迟探测接口，测试时替换
type LatencyProber interface {
	// ProbeHost 由编排端直接探测主机可达性，返回平均延迟（毫秒）
	ProbeHost(ctx context.Context, info models.HostInfo) float64
	// ProbeAccessPoint 登录主机后探测其到接入点任务服务器集群的平均延迟（毫秒）
	ProbeAccessPoint(ctx context.Context, info models.HostInfo, ap models.AccessPoint) float64
}

// remoteProber 登录目标主机执行 ping 的延迟探测实现
type remoteProber struct {
	dial    ConnDialer
	sshCfg  config.SSHConfig
	pingCfg config.PingConfig
	logger  *zap.Logger
}

// NewRemoteProber 创建基于远程登录的延迟探测器
func NewRemoteProber(dial ConnDialer, sshCfg config.SSHConfig, pingCfg config.PingConfig, logger *zap.Logger) LatencyProber {
	return &remoteProber{dial: dial, sshCfg: sshCfg, pingCfg: pingCfg, logger: logger}
}

func (p *remoteProber) ProbeHost(ctx context.Context, info models.HostInfo) float64 {
	latency, err := remote.DirectPing(info.LoginIP(), p.pingCfg.Count, p.pingCfg.Timeout)
	if err != nil {
		p.logger.Debug("编排端直连探测失败", zap.String("host", info.LoginIP()), zap.Error(err))
	}
	return latency
}

func (p *remoteProber) ProbeAccessPoint(ctx context.Context, info models.HostInfo, ap models.AccessPoint) float64 {
	opts := dialOptions(info, p.sshCfg)
	channel := remote.DetectChannel(opts, p.sshCfg.ConnectTimeout)
	conn, err := p.dial(opts, channel)
	if err != nil {
		p.logger.Warn("延迟探测登录失败",
			zap.String("host", opts.Addr()),
			zap.String("channel", string(channel)),
			zap.Error(err))
		return remote.WorstLatency
	}
	defer conn.Close()

	// 命令超时按采样次数放大，留出一次建连余量
	cmdTimeout := p.pingCfg.Timeout*time.Duration(p.pingCfg.Count) + p.sshCfg.ConnectTimeout

	var samples []float64
	for _, ep := range ap.TaskServers {
		target := ep.InnerIP
		if target == "" {
			target = ep.OuterIP
		}
		if target == "" {
			continue
		}
		cmd := remote.PingCommand(info.OSType, target, p.pingCfg.Count, p.pingCfg.Timeout)
		out, err := conn.Run(ctx, cmd, false, cmdTimeout)
		if err != nil {
			samples = append(samples, remote.ParsePingLatencies(info.OSType, "", p.pingCfg.Count)...)
			continue
		}
		samples = append(samples, remote.ParsePingLatencies(info.OSType, out.Stdout, p.pingCfg.Count)...)
	}
	return remote.AvgLatency(samples)
}

// ChooseAccessPointService 为批次内每台主机选定接入点。
// Proxy 主机按管控区域绑定每次重置；PAGENT 随机挑选区域内存活 Proxy；
// 已有预分配接入点的主机保持不变；其余主机按延迟探测择优。
type ChooseAccessPointService struct {
	engine.BaseService
	logger  *zap.Logger
	hosts   HostStore
	clouds  CloudStore
	aps     AccessPointStore
	procs   ProcessStatusStore
	prober  LatencyProber
	apCache cache.Cache[string, []models.AccessPoint]
	concCfg config.ConcurrencyConfig
}

// NewChooseAccessPointService 创建接入点选择步骤
func NewChooseAccessPointService(logger *zap.Logger, hosts HostStore, clouds CloudStore,
	aps AccessPointStore, procs ProcessStatusStore, prober LatencyProber, concCfg config.ConcurrencyConfig) *ChooseAccessPointService {
	return &ChooseAccessPointService{
		logger:  logger,
		hosts:   hosts,
		clouds:  clouds,
		aps:     aps,
		procs:   procs,
		prober:  prober,
		apCache: cache.New[string, []models.AccessPoint](5 * time.Minute),
		concCfg: concCfg,
	}
}

func (s *ChooseAccessPointService) Name() string {
	return "choose_access_point"
}

// probeTarget 待延迟探测的实例
type probeTarget struct {
	instanceID string
	hostID     int64
	info       models.HostInfo
}

// probeResult 单台主机的探测裁决
type probeResult struct {
	instanceID string
	hostID     int64
	apID       int64
	apName     string
	latency    float64
	failReason string
}

func (s *ChooseAccessPointService) Execute(ctx context.Context, data *engine.Data) error {
	instances := data.RemainingInstances()
	if len(instances) == 0 {
		return nil
	}

	allAPs, err := s.allAccessPoints(ctx)
	if err != nil {
		return fmt.Errorf("查询接入点失败: %w", err)
	}
	if len(allAPs) == 0 {
		return fmt.Errorf("系统未配置任何接入点")
	}
	apByID := make(map[int64]models.AccessPoint, len(allAPs))
	for _, ap := range allAPs {
		apByID[ap.ID] = ap
	}

	hostByID, cloudByID, err := s.loadHostsAndClouds(ctx, instances)
	if err != nil {
		return err
	}

	apIDByHost := make(map[int64]int64)
	var probeTargets []probeTarget
	aliveProxyCache := make(map[int64][]models.Host)

	for _, inst := range instances {
		info := inst.InstanceInfo.Data()
		host, ok := hostByID[inst.HostID]
		if !ok {
			data.Tracker.MoveToFailed(ctx, []string{inst.ID}, "主机记录不存在，无法选择接入点")
			continue
		}

		switch host.NodeType {
		case models.NodeTypeProxy:
			// 区域与接入点的映射可能变化，Proxy 每次执行都按区域绑定重置
			cloud, ok := cloudByID[host.CloudID]
			if !ok || cloud.AccessPointID <= 0 {
				data.Tracker.MoveToFailed(ctx, []string{inst.ID},
					fmt.Sprintf("管控区域 %d 未绑定接入点", host.CloudID))
				continue
			}
			apIDByHost[host.ID] = cloud.AccessPointID
			data.Tracker.LogInfo(ctx, []string{inst.ID},
				fmt.Sprintf("Proxy 主机按管控区域绑定重置接入点 [%s]", s.apName(apByID, cloud.AccessPointID)))

		case models.NodeTypePagent:
			apID, reason := s.chooseByProxy(ctx, host, info, apByID, cloudByID, aliveProxyCache)
			if reason != "" {
				data.Tracker.MoveToFailed(ctx, []string{inst.ID}, reason)
				continue
			}
			apIDByHost[host.ID] = apID
			data.Tracker.LogInfo(ctx, []string{inst.ID},
				fmt.Sprintf("经区域内存活 Proxy 解析接入点 [%s]", s.apName(apByID, apID)))

		default:
			if host.HasAccessPoint() {
				data.Tracker.LogInfo(ctx, []string{inst.ID},
					fmt.Sprintf("使用预分配接入点 [%s]", s.apName(apByID, host.AccessPointID)))
				continue
			}
			probeTargets = append(probeTargets, probeTarget{
				instanceID: inst.ID,
				hostID:     host.ID,
				info:       info,
			})
		}
	}

	if len(probeTargets) > 0 {
		results, _ := concurrent.BatchCall(ctx, probeTargets,
			func(ctx context.Context, batch []probeTarget) ([]probeResult, error) {
				out := make([]probeResult, 0, len(batch))
				for _, target := range batch {
					out = append(out, s.probeOne(ctx, target, allAPs))
				}
				return out, nil
			},
			concurrent.Options{BatchSize: 1, ParallelBatches: true},
			concurrent.PoolExecutor{MaxWorkers: s.concCfg.MaxWorkers})

		for _, r := range results {
			apIDByHost[r.hostID] = r.apID
			if r.failReason != "" {
				data.Tracker.MoveToFailed(ctx, []string{r.instanceID}, r.failReason)
				continue
			}
			data.Tracker.LogInfo(ctx, []string{r.instanceID},
				fmt.Sprintf("延迟探测完成，已选择接入点 [%s]，平均延迟 %.2fms", r.apName, r.latency))
		}
	}

	if len(apIDByHost) > 0 {
		if err := s.hosts.BulkUpdateAccessPointID(ctx, apIDByHost); err != nil {
			return fmt.Errorf("接入点写回失败: %w", err)
		}
	}
	return nil
}

// probeOne 对单台主机探测全部候选接入点并裁决。
// 延迟并列最优或全部不可达时写入失败哨兵并判失败。
func (s *ChooseAccessPointService) probeOne(ctx context.Context, target probeTarget, aps []models.AccessPoint) probeResult {
	// 直连区域主机先由编排端直接探测，省去不可达主机的登录开销
	if target.info.CloudID == models.DefaultCloudID {
		if s.prober.ProbeHost(ctx, target.info) >= remote.WorstLatency {
			return probeResult{
				instanceID: target.instanceID,
				hostID:     target.hostID,
				apID:       models.FailedAccessPointID,
				failReason: "编排端无法连通主机，跳过接入点探测",
			}
		}
	}

	best := probeResult{
		instanceID: target.instanceID,
		hostID:     target.hostID,
		apID:       models.FailedAccessPointID,
		latency:    remote.WorstLatency,
	}
	ties := 0
	for _, ap := range aps {
		avg := s.prober.ProbeAccessPoint(ctx, target.info, ap)
		s.logger.Debug("接入点延迟探测",
			zap.String("host", target.info.LoginIP()),
			zap.String("accessPoint", ap.Name),
			zap.Float64("avgLatency", avg))
		if avg < best.latency {
			best.apID = ap.ID
			best.apName = ap.Name
			best.latency = avg
			ties = 1
		} else if avg == best.latency {
			ties++
		}
	}

	if best.latency >= remote.WorstLatency {
		best.apID = models.FailedAccessPointID
		best.failReason = "到所有接入点的探测均不可达"
		return best
	}
	if ties > 1 {
		best.apID = models.FailedAccessPointID
		best.failReason = fmt.Sprintf("存在 %d 个延迟并列最优的接入点，无法裁决", ties)
		return best
	}
	return best
}

// chooseByProxy PAGENT 主机经区域内随机存活 Proxy 解析接入点，
// 返回接入点 ID；reason 非空表示失败原因。
// 实例指定了 GSE 协议版本时，只在接入点版本匹配的 Proxy 中挑选。
func (s *ChooseAccessPointService) chooseByProxy(ctx context.Context, host models.Host, info models.HostInfo,
	apByID map[int64]models.AccessPoint, cloudByID map[int64]models.Cloud, aliveProxyCache map[int64][]models.Host) (int64, string) {
	alive, ok := aliveProxyCache[host.CloudID]
	if !ok {
		var err error
		alive, err = s.aliveProxies(ctx, host.CloudID)
		if err != nil {
			return 0, fmt.Sprintf("查询区域 Proxy 失败: %v", err)
		}
		aliveProxyCache[host.CloudID] = alive
	}
	if len(alive) == 0 {
		return 0, "该区域无存活 Proxy，请联系管理员"
	}

	if info.GseVersion != "" {
		var matched []models.Host
		for _, p := range alive {
			if !p.HasAccessPoint() {
				continue
			}
			if ap, ok := apByID[p.AccessPointID]; ok && ap.GseVersion == info.GseVersion {
				matched = append(matched, p)
			}
		}
		if len(matched) == 0 {
			// 区域绑定的接入点版本匹配时仍可兜底
			if cloud, ok := cloudByID[host.CloudID]; ok {
				if ap, found := apByID[cloud.AccessPointID]; found && ap.GseVersion == info.GseVersion {
					return cloud.AccessPointID, ""
				}
			}
			return 0, fmt.Sprintf("该区域无 GSE %s 版本的存活 Proxy，请联系管理员", info.GseVersion)
		}
		return matched[rand.Intn(len(matched))].AccessPointID, ""
	}

	proxy := alive[rand.Intn(len(alive))]
	if proxy.HasAccessPoint() {
		return proxy.AccessPointID, ""
	}
	if cloud, ok := cloudByID[host.CloudID]; ok && cloud.AccessPointID > 0 {
		return cloud.AccessPointID, ""
	}
	return 0, fmt.Sprintf("Proxy 主机 %s 未分配接入点且管控区域无绑定", proxy.LoginIP())
}

// aliveProxies 查询区域内 Agent 进程处于运行态的 Proxy
func (s *ChooseAccessPointService) aliveProxies(ctx context.Context, cloudID int64) ([]models.Host, error) {
	proxies, err := s.hosts.FindProxiesByCloudID(ctx, cloudID)
	if err != nil {
		return nil, err
	}
	if len(proxies) == 0 {
		return nil, nil
	}
	proxyIDs := make([]int64, 0, len(proxies))
	for _, p := range proxies {
		proxyIDs = append(proxyIDs, p.ID)
	}
	rows, err := s.procs.FindByHostIDIn(ctx, proxyIDs, models.ProcNameAgent, models.ProcSourceDefault)
	if err != nil {
		return nil, err
	}
	running := make(map[int64]struct{})
	for _, row := range rows {
		if row.Status == models.ProcStatusRunning {
			running[row.HostID] = struct{}{}
		}
	}
	var alive []models.Host
	for _, p := range proxies {
		if _, ok := running[p.ID]; ok {
			alive = append(alive, p)
		}
	}
	return alive, nil
}

func (s *ChooseAccessPointService) allAccessPoints(ctx context.Context) ([]models.AccessPoint, error) {
	if aps, ok := s.apCache.Get(accessPointCacheKey); ok {
		return aps, nil
	}
	aps, err := s.aps.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	s.apCache.Set(accessPointCacheKey, aps, 5*time.Minute)
	return aps, nil
}

func (s *ChooseAccessPointService) loadHostsAndClouds(ctx context.Context, instances []models.SubscriptionInstance) (map[int64]models.Host, map[int64]models.Cloud, error) {
	hostIDs := make([]int64, 0, len(instances))
	for _, inst := range instances {
		if inst.HostID > 0 {
			hostIDs = append(hostIDs, inst.HostID)
		}
	}
	hosts, err := s.hosts.FindByIDIn(ctx, hostIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("查询主机失败: %w", err)
	}
	hostByID := make(map[int64]models.Host, len(hosts))
	cloudIDSet := make(map[int64]struct{})
	for _, h := range hosts {
		hostByID[h.ID] = h
		cloudIDSet[h.CloudID] = struct{}{}
	}

	cloudIDs := make([]int64, 0, len(cloudIDSet))
	for id := range cloudIDSet {
		cloudIDs = append(cloudIDs, id)
	}
	clouds, err := s.clouds.FindByIDIn(ctx, cloudIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("查询管控区域失败: %w", err)
	}
	cloudByID := make(map[int64]models.Cloud, len(clouds))
	for _, c := range clouds {
		cloudByID[c.ID] = c
	}
	return hostByID, cloudByID, nil
}

func (s *ChooseAccessPointService) apName(apByID map[int64]models.AccessPoint, id int64) string {
	if ap, ok := apByID[id]; ok {
		return ap.Name
	}
	return fmt.Sprintf("#%d", id)
}
