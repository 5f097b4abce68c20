package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dushixiang/nodeman/internal/models"
)

// InstanceRepo 订阅实例数据访问层
type InstanceRepo struct {
	db *gorm.DB
}

// NewInstanceRepo 创建仓库
func NewInstanceRepo(db *gorm.DB) *InstanceRepo {
	return &InstanceRepo{db: db}
}

// FindByIDIn 按 ID 集合查询
func (r *InstanceRepo) FindByIDIn(ctx context.Context, ids []string) ([]models.SubscriptionInstance, error) {
	var instances []models.SubscriptionInstance
	err := r.db.WithContext(ctx).Where("id in ?", ids).Find(&instances).Error
	return instances, err
}

// BulkCreate 批量创建实例
func (r *InstanceRepo) BulkCreate(ctx context.Context, instances []*models.SubscriptionInstance) error {
	if len(instances) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	for _, inst := range instances {
		inst.CreatedAt = now
		inst.UpdatedAt = now
	}
	return r.db.WithContext(ctx).Create(instances).Error
}

// UpdateStep 更新实例当前步骤
func (r *InstanceRepo) UpdateStep(ctx context.Context, ids []string, step, status string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.SubscriptionInstance{}).
		Where("id in ?", ids).
		Updates(map[string]interface{}{
			"step":       step,
			"status":     status,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

// UpdateHostID 批量回填实例对应的主机 ID
func (r *InstanceRepo) UpdateHostID(ctx context.Context, hostIDByInstance map[string]int64) error {
	if len(hostIDByInstance) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for instanceID, hostID := range hostIDByInstance {
			err := tx.Model(&models.SubscriptionInstance{}).
				Where("id = ?", instanceID).
				Updates(map[string]interface{}{"host_id": hostID, "updated_at": now}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteLogs 为一组实例追加同一条过程日志（engine.LogWriter 实现）
func (r *InstanceRepo) WriteLogs(ctx context.Context, instanceIDs []string, step, level, content string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	logs := make([]*models.InstanceLog, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		logs = append(logs, &models.InstanceLog{
			InstanceID: id,
			Step:       step,
			Level:      level,
			Content:    content,
			CreatedAt:  now,
		})
	}
	return r.db.WithContext(ctx).Create(logs).Error
}
