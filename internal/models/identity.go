package models

import "gorm.io/datatypes"

// 认证方式
const (
	AuthTypePassword    = "PASSWORD"     // 密码认证
	AuthTypeKey         = "KEY"          // 密钥认证
	AuthTypeTjjPassword = "TJJ_PASSWORD" // 第三方密码库托管密码
)

// IdentityData 主机远程登录凭据，与主机一一对应
type IdentityData struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	HostID      int64          `gorm:"uniqueIndex:ux_identity_host" json:"hostId"` // 主机 ID
	AuthType    string         `json:"authType"`                                   // 认证方式
	Account     string         `json:"account"`                                    // 登录账号
	Password    string         `json:"-"`                                          // 登录密码
	Key         string         `json:"-"`                                          // 登录密钥
	Port        int            `json:"port"`                                       // 登录端口
	RetainAt    int64          `json:"retainAt"`                                   // 凭据保留截止时间（毫秒时间戳，0 表示长期保留）
	Extra       datatypes.JSON `json:"extra"`                                      // 扩展数据（如密码库票据）
	UpdatedAt   int64          `json:"updatedAt"`
}

func (IdentityData) TableName() string {
	return "identity_data"
}
