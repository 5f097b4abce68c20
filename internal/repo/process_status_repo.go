package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dushixiang/nodeman/internal/models"
)

// ProcessStatusRepo 托管进程状态数据访问层
type ProcessStatusRepo struct {
	db *gorm.DB
}

// NewProcessStatusRepo 创建仓库
func NewProcessStatusRepo(db *gorm.DB) *ProcessStatusRepo {
	return &ProcessStatusRepo{db: db}
}

// FindByHostIDIn 按主机 ID 集合查询指定进程的状态记录（按 id 升序）
func (r *ProcessStatusRepo) FindByHostIDIn(ctx context.Context, hostIDs []int64, name, sourceType string) ([]models.ProcessStatus, error) {
	var rows []models.ProcessStatus
	err := r.db.WithContext(ctx).
		Where("host_id in ? and name = ? and source_type = ?", hostIDs, name, sourceType).
		Order("id asc").
		Find(&rows).Error
	return rows, err
}

// BulkCreate 批量创建
func (r *ProcessStatusRepo) BulkCreate(ctx context.Context, rows []*models.ProcessStatus) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

// BulkUpdateStatus 批量更新进程状态（批末一次性写入）
func (r *ProcessStatusRepo) BulkUpdateStatus(ctx context.Context, updates map[int64]string) error {
	if len(updates) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, status := range updates {
			err := tx.Model(&models.ProcessStatus{}).
				Where("id = ?", id).
				Updates(map[string]interface{}{"status": status, "updated_at": now}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// BulkUpdateVersion 批量更新进程版本
func (r *ProcessStatusRepo) BulkUpdateVersion(ctx context.Context, versions map[int64]string) error {
	if len(versions) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, version := range versions {
			err := tx.Model(&models.ProcessStatus{}).
				Where("id = ?", id).
				Updates(map[string]interface{}{"version": version, "updated_at": now}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteByIDIn 按 ID 集合删除
func (r *ProcessStatusRepo) DeleteByIDIn(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id in ?", ids).Delete(&models.ProcessStatus{}).Error
}
