package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
gse:
  baseUrl: http://gse.example.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() 失败: %v", err)
	}

	if cfg.SSH.DefaultPort != 22 {
		t.Errorf("SSH 默认端口应为 22，实际 %d", cfg.SSH.DefaultPort)
	}
	if cfg.Ping.Count != 4 {
		t.Errorf("默认采样次数应为 4，实际 %d", cfg.Ping.Count)
	}
	if cfg.Concurrency.BatchSize != 100 {
		t.Errorf("默认分批大小应为 100，实际 %d", cfg.Concurrency.BatchSize)
	}
	if cfg.Schedule.PollTimeout != 5*time.Minute {
		t.Errorf("默认轮询超时应为 5m，实际 %v", cfg.Schedule.PollTimeout)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Run("非法接口地址", func(t *testing.T) {
		path := writeConfigFile(t, `
cmdb:
  baseUrl: not-a-url
`)
		if _, err := Load(path); err == nil {
			t.Fatal("非法接口地址应校验失败")
		}
	})

	t.Run("端口越界", func(t *testing.T) {
		path := writeConfigFile(t, `
ssh:
  defaultPort: 70000
`)
		if _, err := Load(path); err == nil {
			t.Fatal("越界端口应校验失败")
		}
	})
}
