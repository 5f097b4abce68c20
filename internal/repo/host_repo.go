package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dushixiang/nodeman/internal/models"
)

// HostRepo 主机数据访问层
type HostRepo struct {
	db *gorm.DB
}

// NewHostRepo 创建仓库
func NewHostRepo(db *gorm.DB) *HostRepo {
	return &HostRepo{db: db}
}

// FindByIDIn 按 ID 集合查询
func (r *HostRepo) FindByIDIn(ctx context.Context, ids []int64) ([]models.Host, error) {
	var hosts []models.Host
	err := r.db.WithContext(ctx).Where("id in ?", ids).Find(&hosts).Error
	return hosts, err
}

// FindByCloudInnerIP 按 (管控区域, 内网IP) 查询
func (r *HostRepo) FindByCloudInnerIP(ctx context.Context, cloudID int64, innerIP string) (*models.Host, error) {
	var host models.Host
	err := r.db.WithContext(ctx).
		Where("cloud_id = ? and inner_ip = ?", cloudID, innerIP).
		First(&host).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &host, nil
}

// FindProxiesByCloudID 查询区域内的 Proxy 节点
func (r *HostRepo) FindProxiesByCloudID(ctx context.Context, cloudID int64) ([]models.Host, error) {
	var hosts []models.Host
	err := r.db.WithContext(ctx).
		Where("cloud_id = ? and node_type = ?", cloudID, models.NodeTypeProxy).
		Find(&hosts).Error
	return hosts, err
}

// BulkCreate 批量创建
func (r *HostRepo) BulkCreate(ctx context.Context, hosts []*models.Host) error {
	if len(hosts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(hosts).Error
}

// BulkUpdateAccessPointID 批量更新主机接入点（批末一次性写入，避免并发逐行更新）
func (r *HostRepo) BulkUpdateAccessPointID(ctx context.Context, apIDByHost map[int64]int64) error {
	if len(apIDByHost) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for hostID, apID := range apIDByHost {
			err := tx.Model(&models.Host{}).
				Where("id = ?", hostID).
				Updates(map[string]interface{}{"ap_id": apID, "updated_at": now}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// BulkUpdateAgentID 批量更新主机 AgentID
func (r *HostRepo) BulkUpdateAgentID(ctx context.Context, agentIDByHost map[int64]string) error {
	if len(agentIDByHost) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for hostID, agentID := range agentIDByHost {
			err := tx.Model(&models.Host{}).
				Where("id = ?", hostID).
				Updates(map[string]interface{}{"agent_id": agentID, "updated_at": now}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
