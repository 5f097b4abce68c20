package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/dushixiang/nodeman/internal/adapter"
	"github.com/dushixiang/nodeman/internal/engine"
	"github.com/dushixiang/nodeman/internal/models"
)

// 服务层测试公用的内存假实现

type fakeHostStore struct {
	hosts          map[int64]models.Host
	apUpdates      map[int64]int64
	agentIDUpdates map[int64]string
	created        []*models.Host
}

func newFakeHostStore(hosts ...models.Host) *fakeHostStore {
	s := &fakeHostStore{
		hosts:          make(map[int64]models.Host),
		apUpdates:      make(map[int64]int64),
		agentIDUpdates: make(map[int64]string),
	}
	for _, h := range hosts {
		s.hosts[h.ID] = h
	}
	return s
}

func (s *fakeHostStore) FindByIDIn(ctx context.Context, ids []int64) ([]models.Host, error) {
	var out []models.Host
	for _, id := range ids {
		if h, ok := s.hosts[id]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *fakeHostStore) FindByCloudInnerIP(ctx context.Context, cloudID int64, innerIP string) (*models.Host, error) {
	for _, h := range s.hosts {
		if h.CloudID == cloudID && h.InnerIP == innerIP {
			host := h
			return &host, nil
		}
	}
	return nil, nil
}

func (s *fakeHostStore) FindProxiesByCloudID(ctx context.Context, cloudID int64) ([]models.Host, error) {
	var out []models.Host
	for _, h := range s.hosts {
		if h.CloudID == cloudID && h.NodeType == models.NodeTypeProxy {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *fakeHostStore) BulkCreate(ctx context.Context, hosts []*models.Host) error {
	for _, h := range hosts {
		s.hosts[h.ID] = *h
		s.created = append(s.created, h)
	}
	return nil
}

func (s *fakeHostStore) BulkUpdateAccessPointID(ctx context.Context, apIDByHost map[int64]int64) error {
	for hostID, apID := range apIDByHost {
		s.apUpdates[hostID] = apID
		if h, ok := s.hosts[hostID]; ok {
			h.AccessPointID = apID
			s.hosts[hostID] = h
		}
	}
	return nil
}

func (s *fakeHostStore) BulkUpdateAgentID(ctx context.Context, agentIDByHost map[int64]string) error {
	for hostID, agentID := range agentIDByHost {
		s.agentIDUpdates[hostID] = agentID
		if h, ok := s.hosts[hostID]; ok {
			h.AgentID = agentID
			s.hosts[hostID] = h
		}
	}
	return nil
}

type fakeIdentityStore struct {
	upserts []*models.IdentityData
}

func (s *fakeIdentityStore) BulkUpsert(ctx context.Context, identities []*models.IdentityData) error {
	s.upserts = append(s.upserts, identities...)
	return nil
}

type fakeAccessPointStore struct {
	aps []models.AccessPoint
}

func (s *fakeAccessPointStore) FindAll(ctx context.Context) ([]models.AccessPoint, error) {
	return s.aps, nil
}

type fakeCloudStore struct {
	clouds map[int64]models.Cloud
}

func newFakeCloudStore(clouds ...models.Cloud) *fakeCloudStore {
	s := &fakeCloudStore{clouds: make(map[int64]models.Cloud)}
	for _, c := range clouds {
		s.clouds[c.ID] = c
	}
	return s
}

func (s *fakeCloudStore) FindByID(ctx context.Context, id int64) (*models.Cloud, error) {
	if c, ok := s.clouds[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *fakeCloudStore) FindByIDIn(ctx context.Context, ids []int64) ([]models.Cloud, error) {
	var out []models.Cloud
	for _, id := range ids {
		if c, ok := s.clouds[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeProcStore struct {
	rows          []models.ProcessStatus
	nextID        int64
	statusUpdates map[int64]string
	deleted       []int64
}

func newFakeProcStore(rows ...models.ProcessStatus) *fakeProcStore {
	s := &fakeProcStore{statusUpdates: make(map[int64]string), nextID: 1000}
	s.rows = append(s.rows, rows...)
	return s
}

func (s *fakeProcStore) FindByHostIDIn(ctx context.Context, hostIDs []int64, name, sourceType string) ([]models.ProcessStatus, error) {
	want := make(map[int64]struct{}, len(hostIDs))
	for _, id := range hostIDs {
		want[id] = struct{}{}
	}
	var out []models.ProcessStatus
	for _, row := range s.rows {
		if _, ok := want[row.HostID]; ok && row.Name == name && row.SourceType == sourceType {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeProcStore) BulkCreate(ctx context.Context, rows []*models.ProcessStatus) error {
	for _, row := range rows {
		s.nextID++
		row.ID = s.nextID
		s.rows = append(s.rows, *row)
	}
	return nil
}

func (s *fakeProcStore) BulkUpdateStatus(ctx context.Context, updates map[int64]string) error {
	for id, status := range updates {
		s.statusUpdates[id] = status
		for i := range s.rows {
			if s.rows[i].ID == id {
				s.rows[i].Status = status
			}
		}
	}
	return nil
}

func (s *fakeProcStore) BulkUpdateVersion(ctx context.Context, versions map[int64]string) error {
	for id, version := range versions {
		for i := range s.rows {
			if s.rows[i].ID == id {
				s.rows[i].Version = version
			}
		}
	}
	return nil
}

func (s *fakeProcStore) DeleteByIDIn(ctx context.Context, ids []int64) error {
	s.deleted = append(s.deleted, ids...)
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	var kept []models.ProcessStatus
	for _, row := range s.rows {
		if _, ok := drop[row.ID]; !ok {
			kept = append(kept, row)
		}
	}
	s.rows = kept
	return nil
}

type fakeInstanceStore struct {
	hostIDUpdates map[string]int64
}

func newFakeInstanceStore() *fakeInstanceStore {
	return &fakeInstanceStore{hostIDUpdates: make(map[string]int64)}
}

func (s *fakeInstanceStore) UpdateHostID(ctx context.Context, hostIDByInstance map[string]int64) error {
	for id, hostID := range hostIDByInstance {
		s.hostIDUpdates[id] = hostID
	}
	return nil
}

// fakeTransactor 直接执行回调，不做事务
type fakeTransactor struct{}

func (fakeTransactor) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeProber 延迟探测假实现，latencies[接入点ID] 为返回值
type fakeProber struct {
	hostLatency float64
	latencies   map[int64]float64
}

func (p *fakeProber) ProbeHost(ctx context.Context, info models.HostInfo) float64 {
	return p.hostLatency
}

func (p *fakeProber) ProbeAccessPoint(ctx context.Context, info models.HostInfo, ap models.AccessPoint) float64 {
	if latency, ok := p.latencies[ap.ID]; ok {
		return latency
	}
	return 9999.0
}

// fakeGse GSE 接口假实现
type fakeGse struct {
	agentInfos    map[string]adapter.AgentInfo
	agentStatuses []map[string]adapter.AgentStatus // 每轮 Schedule 依次弹出
	statusCalls   int
	procResults   map[string]adapter.ProcResult
	operateTaskID string
	operateCalls  int
	pollResults   []*adapter.ProcOperateResult // 每轮 Schedule 依次弹出
	pollCalls     int
}

func (g *fakeGse) GetAgentInfo(ctx context.Context, hosts []adapter.GseHost) (map[string]adapter.AgentInfo, error) {
	return g.agentInfos, nil
}

func (g *fakeGse) GetAgentStatus(ctx context.Context, hosts []adapter.GseHost) (map[string]adapter.AgentStatus, error) {
	if len(g.agentStatuses) == 0 {
		return nil, fmt.Errorf("没有预置的状态响应")
	}
	idx := g.statusCalls
	if idx >= len(g.agentStatuses) {
		idx = len(g.agentStatuses) - 1
	}
	g.statusCalls++
	return g.agentStatuses[idx], nil
}

func (g *fakeGse) UpdateProcInfo(ctx context.Context, spec adapter.ProcInfoSpec) (map[string]adapter.ProcResult, error) {
	return g.procResults, nil
}

func (g *fakeGse) OperateProc(ctx context.Context, spec adapter.ProcOperateSpec) (string, error) {
	g.operateCalls++
	if g.operateTaskID == "" {
		g.operateTaskID = "task-1"
	}
	return g.operateTaskID, nil
}

func (g *fakeGse) GetProcOperateResult(ctx context.Context, taskID string) (*adapter.ProcOperateResult, error) {
	if len(g.pollResults) == 0 {
		return nil, fmt.Errorf("没有预置的任务结果")
	}
	idx := g.pollCalls
	if idx >= len(g.pollResults) {
		idx = len(g.pollResults) - 1
	}
	g.pollCalls++
	return g.pollResults[idx], nil
}

// fakeCmdb CMDB 接口假实现，注册解析并发展开，读写需加锁
type fakeCmdb struct {
	mu            sync.Mutex
	bizHosts      map[string]adapter.CmdbHost // key: HostKey，期望业务内已有主机
	globalHosts   map[string]adapter.CmdbHost // key: HostKey，资源池主机
	relations     map[int64]int64             // hostID -> bizID
	nextHostID    int64
	registered    int
	boundAgents   []adapter.HostAgentRelation
	unboundAgents []adapter.HostAgentRelation
}

func newFakeCmdb() *fakeCmdb {
	return &fakeCmdb{
		bizHosts:    make(map[string]adapter.CmdbHost),
		globalHosts: make(map[string]adapter.CmdbHost),
		relations:   make(map[int64]int64),
		nextHostID:  100,
	}
}

func (c *fakeCmdb) ListHostsWithoutBiz(ctx context.Context, filter adapter.CmdbHostFilter) ([]adapter.CmdbHost, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []adapter.CmdbHost
	for _, ip := range filter.InnerIPs {
		if h, ok := c.globalHosts[adapter.HostKey(filter.CloudID, ip)]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (c *fakeCmdb) ListBizHosts(ctx context.Context, bizID int64, filter adapter.CmdbHostFilter) ([]adapter.CmdbHost, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []adapter.CmdbHost
	for _, ip := range filter.InnerIPs {
		key := adapter.HostKey(filter.CloudID, ip)
		if h, ok := c.bizHosts[key]; ok && c.relations[h.HostID] == bizID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (c *fakeCmdb) AddHostToResource(ctx context.Context, bizID int64, hosts []adapter.CmdbHost) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int64
	for _, h := range hosts {
		c.nextHostID++
		h.HostID = c.nextHostID
		key := adapter.HostKey(h.CloudID, h.InnerIP)
		c.bizHosts[key] = h
		c.relations[h.HostID] = bizID
		c.registered++
		ids = append(ids, h.HostID)
	}
	return ids, nil
}

func (c *fakeCmdb) FindHostBizRelations(ctx context.Context, hostIDs []int64) ([]adapter.HostBizRelation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []adapter.HostBizRelation
	for _, id := range hostIDs {
		if bizID, ok := c.relations[id]; ok {
			out = append(out, adapter.HostBizRelation{HostID: id, BizID: bizID})
		}
	}
	return out, nil
}

func (c *fakeCmdb) BindHostAgent(ctx context.Context, relations []adapter.HostAgentRelation) error {
	c.boundAgents = append(c.boundAgents, relations...)
	return nil
}

func (c *fakeCmdb) UnbindHostAgent(ctx context.Context, relations []adapter.HostAgentRelation) error {
	c.unboundAgents = append(c.unboundAgents, relations...)
	return nil
}

// fakeVault 密码库接口假实现
type fakeVault struct {
	success map[string]string
	failed  map[string]adapter.VaultFailure
	err     error
}

func (v *fakeVault) GetPassword(ctx context.Context, creator string, cloudIPs []string, ticket string) (map[string]string, map[string]adapter.VaultFailure, error) {
	if v.err != nil {
		return nil, nil, v.err
	}
	return v.success, v.failed, nil
}

// newTestBatch 构造批次数据，实例按给定快照创建
func newTestBatch(infos map[string]models.HostInfo) *engine.Data {
	var instances []models.SubscriptionInstance
	var ids []string
	for id, info := range infos {
		instances = append(instances, models.SubscriptionInstance{
			ID:           id,
			HostID:       info.HostID,
			InstanceInfo: datatypes.NewJSONType(info),
		})
		ids = append(ids, id)
	}
	return &engine.Data{
		SubscriptionID: 1,
		Instances:      instances,
		Tracker:        engine.NewTracker(ids, nil, zap.NewNop()),
		Outputs:        make(map[string]interface{}),
	}
}
