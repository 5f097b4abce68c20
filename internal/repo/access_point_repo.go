package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/dushixiang/nodeman/internal/models"
)

// AccessPointRepo 接入点数据访问层
type AccessPointRepo struct {
	db *gorm.DB
}

// NewAccessPointRepo 创建仓库
func NewAccessPointRepo(db *gorm.DB) *AccessPointRepo {
	return &AccessPointRepo{db: db}
}

// FindAll 查询全部接入点
func (r *AccessPointRepo) FindAll(ctx context.Context) ([]models.AccessPoint, error) {
	var aps []models.AccessPoint
	err := r.db.WithContext(ctx).Find(&aps).Error
	return aps, err
}

// FindByID 按 ID 查询
func (r *AccessPointRepo) FindByID(ctx context.Context, id int64) (*models.AccessPoint, error) {
	var ap models.AccessPoint
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ap, nil
}

// CloudRepo 管控区域数据访问层
type CloudRepo struct {
	db *gorm.DB
}

// NewCloudRepo 创建仓库
func NewCloudRepo(db *gorm.DB) *CloudRepo {
	return &CloudRepo{db: db}
}

// FindByID 按 ID 查询
func (r *CloudRepo) FindByID(ctx context.Context, id int64) (*models.Cloud, error) {
	var cloud models.Cloud
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&cloud).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cloud, nil
}

// FindByIDIn 按 ID 集合查询
func (r *CloudRepo) FindByIDIn(ctx context.Context, ids []int64) ([]models.Cloud, error) {
	var clouds []models.Cloud
	err := r.db.WithContext(ctx).Where("id in ?", ids).Find(&clouds).Error
	return clouds, err
}
