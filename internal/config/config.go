package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dushixiang/nodeman/pkg/logx"
)

// Config 应用配置
type Config struct {
	Log         logx.Config       `yaml:"log"`         // 日志配置
	SSH         SSHConfig         `yaml:"ssh"`         // SSH 连接配置
	Ping        PingConfig        `yaml:"ping"`        // 延迟探测配置
	Concurrency ConcurrencyConfig `yaml:"concurrency"` // 并发控制配置
	GSE         GSEConfig         `yaml:"gse"`         // GSE 管控平台配置
	CMDB        CMDBConfig        `yaml:"cmdb"`        // 配置平台配置
	Vault       VaultConfig       `yaml:"vault"`       // 第三方密码库配置
	Schedule    ScheduleConfig    `yaml:"schedule"`    // 轮询调度配置
}

// SSHConfig SSH 连接配置
type SSHConfig struct {
	DefaultPort    int           `yaml:"defaultPort" validate:"gte=0,lte=65535"` // 默认端口
	ConnectTimeout time.Duration `yaml:"connectTimeout"`                         // 建立连接超时
	CommandTimeout time.Duration `yaml:"commandTimeout"`                         // 命令执行超时
}

// PingConfig 延迟探测配置
type PingConfig struct {
	Count   int           `yaml:"count"`   // 每个端点采样次数
	Timeout time.Duration `yaml:"timeout"` // 单次探测超时
}

// ConcurrencyConfig 并发控制配置
type ConcurrencyConfig struct {
	MaxWorkers          int           `yaml:"maxWorkers"`          // 线程池全局并发上限
	BatchSize           int           `yaml:"batchSize"`           // 默认分批大小
	InterSubmitInterval time.Duration `yaml:"interSubmitInterval"` // 批内任务提交间隔（外部接口限流用）
}

// GSEConfig GSE 管控平台配置
type GSEConfig struct {
	BaseURL string        `yaml:"baseUrl" validate:"omitempty,url"` // 接口地址
	AppCode string        `yaml:"appCode"`                          // 应用标识
	Token   string        `yaml:"token"`                            // 访问令牌
	Timeout time.Duration `yaml:"timeout"`                          // 请求超时
}

// CMDBConfig 配置平台配置
type CMDBConfig struct {
	BaseURL string        `yaml:"baseUrl" validate:"omitempty,url"` // 接口地址
	Token   string        `yaml:"token"`                            // 访问令牌
	Timeout time.Duration `yaml:"timeout"`                          // 请求超时
}

// VaultConfig 第三方密码库配置
type VaultConfig struct {
	BaseURL string        `yaml:"baseUrl" validate:"omitempty,url"` // 接口地址
	Timeout time.Duration `yaml:"timeout"`                          // 请求超时
}

// ScheduleConfig 轮询调度配置
type ScheduleConfig struct {
	Interval    time.Duration `yaml:"interval"`    // 轮询间隔
	PollTimeout time.Duration `yaml:"pollTimeout"` // 轮询超时预算
}

// Load 从文件加载配置并填充默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.applyDefaults()
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return &cfg, nil
}

// Default 返回默认配置
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.SSH.DefaultPort <= 0 {
		c.SSH.DefaultPort = 22
	}
	if c.SSH.ConnectTimeout <= 0 {
		c.SSH.ConnectTimeout = 5 * time.Second
	}
	if c.SSH.CommandTimeout <= 0 {
		c.SSH.CommandTimeout = 30 * time.Second
	}
	if c.Ping.Count <= 0 {
		c.Ping.Count = 4
	}
	if c.Ping.Timeout <= 0 {
		c.Ping.Timeout = 5 * time.Second
	}
	if c.Concurrency.MaxWorkers <= 0 {
		c.Concurrency.MaxWorkers = 50
	}
	if c.Concurrency.BatchSize <= 0 {
		c.Concurrency.BatchSize = 100
	}
	if c.GSE.Timeout <= 0 {
		c.GSE.Timeout = 30 * time.Second
	}
	if c.CMDB.Timeout <= 0 {
		c.CMDB.Timeout = 30 * time.Second
	}
	if c.Vault.Timeout <= 0 {
		c.Vault.Timeout = 30 * time.Second
	}
	if c.Schedule.Interval <= 0 {
		c.Schedule.Interval = 5 * time.Second
	}
	if c.Schedule.PollTimeout <= 0 {
		c.Schedule.PollTimeout = 5 * time.Minute
	}
}
