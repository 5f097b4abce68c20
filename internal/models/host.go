package models

// 操作系统类型
const (
	OSTypeLinux   = "LINUX"
	OSTypeWindows = "WINDOWS"
	OSTypeAIX     = "AIX"
)

// 节点类型
const (
	NodeTypeAgent  = "AGENT"  // 直连区域安装的 Agent
	NodeTypeProxy  = "PROXY"  // 为非直连区域转发流量的代理节点
	NodeTypePagent = "PAGENT" // 只能通过同区域 Proxy 接入的 Agent
)

// FailedAccessPointID 接入点选择失败时写入的哨兵值
const FailedAccessPointID int64 = -1

// DefaultCloudID 直连区域 ID
const DefaultCloudID int64 = 0

// Host 受管主机
type Host struct {
	ID               int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	BizID            int64  `gorm:"index:idx_host_biz" json:"bizId"`                     // 所属业务
	InnerIP          string `gorm:"uniqueIndex:ux_host_cloud_ip" json:"innerIp"`         // 内网 IPv4
	OuterIP          string `json:"outerIp"`                                             // 外网 IPv4
	InnerIPv6        string `json:"innerIpv6"`                                           // 内网 IPv6
	OuterIPv6        string `json:"outerIpv6"`                                           // 外网 IPv6
	CloudID          int64  `gorm:"uniqueIndex:ux_host_cloud_ip" json:"cloudId"`         // 管控区域 ID
	OSType           string `json:"osType"`                                              // 操作系统类型
	NodeType         string `gorm:"index:idx_host_node_type" json:"nodeType"`            // 节点类型
	AccessPointID    int64  `gorm:"column:ap_id" json:"apId"`                            // 接入点 ID，0 表示未分配
	InstallChannelID int64  `json:"installChannelId"`                                    // 安装通道 ID
	AgentID          string `gorm:"column:agent_id;index:idx_host_agent" json:"agentId"` // 注册后分配的 AgentID
	CPUArch          string `json:"cpuArch"`                                             // CPU 架构
	CreatedAt        int64  `json:"createdAt"`
	UpdatedAt        int64  `json:"updatedAt"`
}

func (Host) TableName() string {
	return "hosts"
}

// HasAccessPoint 是否已分配接入点
func (h *Host) HasAccessPoint() bool {
	return h.AccessPointID > 0
}

// LoginIP 返回用于远程登录的 IP，优先内网 IPv4
func (h *Host) LoginIP() string {
	if h.InnerIP != "" {
		return h.InnerIP
	}
	return h.InnerIPv6
}
