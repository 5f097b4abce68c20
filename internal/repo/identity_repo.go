package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dushixiang/nodeman/internal/models"
)

// IdentityRepo 登录凭据数据访问层
type IdentityRepo struct {
	db *gorm.DB
}

// NewIdentityRepo 创建仓库
func NewIdentityRepo(db *gorm.DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

// BulkUpsert 批量覆盖写入（按 host_id 冲突覆盖，避免先删后插的空窗）
func (r *IdentityRepo) BulkUpsert(ctx context.Context, identities []*models.IdentityData) error {
	if len(identities) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UnixMilli()
		for _, identity := range identities {
			identity.UpdatedAt = now
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "host_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"auth_type", "account", "password", "key", "port", "retain_at", "extra", "updated_at"}),
			}).Create(identity).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
