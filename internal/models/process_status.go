package models

// 进程状态
const (
	ProcStatusRunning      = "RUNNING"       // 运行中
	ProcStatusNotInstalled = "NOT_INSTALLED" // 未安装
	ProcStatusTerminated   = "TERMINATED"    // 已终止
	ProcStatusUnknown      = "UNKNOWN"       // 未知
)

// 进程来源
const (
	ProcSourceDefault = "default" // 默认（Agent 本体进程）
	ProcSourcePlugin  = "plugin"  // 插件进程
)

// ProcNameAgent Agent 本体进程名
const ProcNameAgent = "gseAgent"

// ProcessStatus 托管进程状态记录。
// (host_id, name, source_type) 逻辑上唯一，重试可能产生重复行，
// 由 maintainAgentProcUniqueness 主动收敛。
type ProcessStatus struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	HostID     int64  `gorm:"index:idx_proc_host" json:"hostId"` // 主机 ID
	Name       string `json:"name"`                              // 进程名
	SourceType string `json:"sourceType"`                        // 进程来源
	Status     string `json:"status"`                            // 进程状态
	Version    string `json:"version"`                           // 进程版本
	SetupPath  string `json:"setupPath"`                         // 安装路径
	IsAuto     bool   `json:"isAuto"`                            // 是否托管（异常自动拉起）
	UpdatedAt  int64  `json:"updatedAt"`
}

func (ProcessStatus) TableName() string {
	return "process_status"
}
