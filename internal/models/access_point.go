package models

import "gorm.io/datatypes"

// GSE 协议版本
const (
	GseVersionV1 = "V1"
	GseVersionV2 = "V2"
)

// Endpoint 服务端点
type Endpoint struct {
	InnerIP string `json:"innerIp"` // 内网地址
	OuterIP string `json:"outerIp"` // 外网地址
	Port    int    `json:"port"`    // 端口
}

// AgentPathConfig 各操作系统的安装路径配置
type AgentPathConfig struct {
	SetupPath string `json:"setupPath"` // 安装目录
	DataPath  string `json:"dataPath"`  // 数据目录
	LogPath   string `json:"logPath"`   // 日志目录
	TempPath  string `json:"tempPath"`  // 临时目录
}

// AccessPoint 接入点，一组 GSE 管控端集群端点
type AccessPoint struct {
	ID            int64                                           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string                                          `json:"name"`                              // 接入点名称
	GseVersion    string                                          `gorm:"index:idx_ap_gse" json:"gseVersion"` // GSE 协议版本
	TaskServers   datatypes.JSONSlice[Endpoint]                   `json:"taskServers"`                       // 任务服务器列表
	DataServers   datatypes.JSONSlice[Endpoint]                   `json:"dataServers"`                       // 数据服务器列表
	BtFileServers datatypes.JSONSlice[Endpoint]                   `json:"btFileServers"`                     // BT 文件服务器列表
	AgentConfig   datatypes.JSONType[map[string]AgentPathConfig]  `json:"agentConfig"`                       // 按操作系统的安装路径配置
	IsDefault     bool                                            `json:"isDefault"`                         // 是否默认接入点
	Description   string                                          `json:"description"`
	CreatedAt     int64                                           `json:"createdAt"`
	UpdatedAt     int64                                           `json:"updatedAt"`
}

func (AccessPoint) TableName() string {
	return "access_points"
}

// Cloud 管控区域
type Cloud struct {
	ID            int64  `gorm:"primaryKey" json:"id"`
	Name          string `json:"name"`                        // 区域名称
	AccessPointID int64  `gorm:"column:ap_id" json:"apId"`    // 区域绑定的接入点
	ISP           string `json:"isp"`                         // 云服务商
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
}

func (Cloud) TableName() string {
	return "clouds"
}
