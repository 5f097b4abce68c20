package models

import "gorm.io/datatypes"

// 订阅实例状态
const (
	InstanceStatusPending = "PENDING" // 待处理
	InstanceStatusRunning = "RUNNING" // 处理中
	InstanceStatusSuccess = "SUCCESS" // 成功
	InstanceStatusFailed  = "FAILED"  // 失败
)

// HostInfo 订阅实例携带的目标主机描述快照
type HostInfo struct {
	HostID     int64  `json:"hostId"`                                                  // 主机 ID，注册前可能为 0
	BizID      int64  `json:"bizId"`                                                   // 期望所属业务
	InnerIP    string `json:"innerIp" validate:"required_without=InnerIPv6,omitempty,ip"` // 内网 IPv4
	InnerIPv6  string `json:"innerIpv6" validate:"omitempty,ip"`                       // 内网 IPv6
	CloudID    int64  `json:"cloudId"`                                                 // 管控区域 ID
	OSType     string `json:"osType" validate:"omitempty,oneof=LINUX WINDOWS AIX"`     // 操作系统类型
	NodeType   string `json:"nodeType"`                                                // 节点类型
	GseVersion string `json:"gseVersion"`                                              // 期望的 GSE 协议版本，空值不限
	AuthType   string `json:"authType"`                                                // 认证方式
	Account    string `json:"account"`                                                 // 登录账号
	Password   string `json:"-"`                                                       // 登录密码快照
	Key        string `json:"-"`                                                       // 登录密钥快照
	Port       int    `json:"port" validate:"gte=0,lte=65535"`                         // 登录端口
	Ticket     string `json:"-"`                                                       // 密码库票据
	Creator    string `json:"creator"`                                                 // 任务发起人
}

// LoginIP 返回用于远程登录的 IP，优先内网 IPv4
func (i HostInfo) LoginIP() string {
	if i.InnerIP != "" {
		return i.InnerIP
	}
	return i.InnerIPv6
}

// SubscriptionInstance 订阅实例，一个 (订阅, 主机) 工作单元。
// 实例 ID 在重试间保持稳定，由各原子步骤推进，核心不负责删除。
type SubscriptionInstance struct {
	ID             string                        `gorm:"primaryKey" json:"id"`
	SubscriptionID int64                         `gorm:"index:idx_inst_sub" json:"subscriptionId"` // 所属订阅
	HostID         int64                         `gorm:"index:idx_inst_host" json:"hostId"`        // 目标主机 ID
	InstanceInfo   datatypes.JSONType[HostInfo]  `json:"instanceInfo"`                             // 主机描述快照
	Step           string                        `json:"step"`                                     // 当前步骤
	Status         string                        `json:"status"`                                   // 当前状态
	CreatedAt      int64                         `json:"createdAt"`
	UpdatedAt      int64                         `json:"updatedAt"`
}

func (SubscriptionInstance) TableName() string {
	return "subscription_instances"
}

// 实例日志级别
const (
	LogLevelInfo    = "INFO"
	LogLevelWarning = "WARNING"
	LogLevelError   = "ERROR"
)

// InstanceLog 订阅实例的过程日志，供前端展示
type InstanceLog struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	InstanceID string `gorm:"index:idx_instlog_inst" json:"instanceId"` // 实例 ID
	Step       string `json:"step"`                                     // 步骤名
	Level      string `json:"level"`                                    // 日志级别
	Content    string `json:"content"`                                  // 日志内容
	CreatedAt  int64  `json:"createdAt"`
}

func (InstanceLog) TableName() string {
	return "instance_logs"
}
