package remote

import (
	"strings"
	"testing"
	"time"
)

func TestParsePingLatenciesUnix(t *testing.T) {
	output := `PING 10.0.0.1 (10.0.0.1) 56(84) bytes of data.
64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=8.03 ms
64 bytes from 10.0.0.1: icmp_seq=2 ttl=64 time=7.95 ms
64 bytes from 10.0.0.1: icmp_seq=3 ttl=64 time=8.12 ms
64 bytes from 10.0.0.1: icmp_seq=4 ttl=64 time=7.90 ms`

	samples := ParsePingLatencies("LINUX", output, 4)
	if len(samples) != 4 {
		t.Fatalf("应有 4 个采样，实际 %d 个", len(samples))
	}
	if samples[0] != 8.03 {
		t.Errorf("首个采样应为 8.03，实际 %v", samples[0])
	}
}

func TestParsePingLatenciesWindows(t *testing.T) {
	output := `Pinging 10.0.0.1 with 32 bytes of data:
Reply from 10.0.0.1: bytes=32 time=12ms TTL=64
Reply from 10.0.0.1: bytes=32 time<1ms TTL=64
Reply from 10.0.0.1: bytes=32 time=13ms TTL=64
Request timed out.`

	samples := ParsePingLatencies("WINDOWS", output, 4)
	if len(samples) != 4 {
		t.Fatalf("应有 4 个采样，实际 %d 个", len(samples))
	}
	if samples[0] != 12 || samples[1] != 1 || samples[2] != 13 {
		t.Errorf("采样解析不符: %v", samples)
	}
	// 超时的采样按最差延迟计，不是零
	if samples[3] != WorstLatency {
		t.Errorf("缺失采样应为 WorstLatency，实际 %v", samples[3])
	}
}

func TestParsePingLatenciesAllLost(t *testing.T) {
	samples := ParsePingLatencies("LINUX", "Request timeout for icmp_seq 0", 4)
	for i, s := range samples {
		if s != WorstLatency {
			t.Errorf("第 %d 个采样应为 WorstLatency，实际 %v", i, s)
		}
	}
}

func TestAvgLatency(t *testing.T) {
	if got := AvgLatency(nil); got != WorstLatency {
		t.Errorf("空采样的平均延迟应为 WorstLatency，实际 %v", got)
	}
	if got := AvgLatency([]float64{10, 20, 30}); got != 20 {
		t.Errorf("平均延迟应为 20，实际 %v", got)
	}
}

func TestPingCommand(t *testing.T) {
	t.Run("linux", func(t *testing.T) {
		cmd := PingCommand("LINUX", "10.0.0.1", 4, 5*time.Second)
		if cmd != "ping -c 4 -W 5 10.0.0.1" {
			t.Errorf("命令不符: %s", cmd)
		}
	})
	t.Run("linux ipv6目标使用ping6", func(t *testing.T) {
		cmd := PingCommand("LINUX", "fd00::1", 4, 5*time.Second)
		if !strings.HasPrefix(cmd, "ping6 ") {
			t.Errorf("IPv6 目标应使用 ping6: %s", cmd)
		}
	})
	t.Run("windows", func(t *testing.T) {
		cmd := PingCommand("WINDOWS", "10.0.0.1", 4, 5*time.Second)
		if cmd != "ping -n 4 -w 5000 10.0.0.1" {
			t.Errorf("命令不符: %s", cmd)
		}
	})
}

func TestSudoCommand(t *testing.T) {
	if got := SudoCommand("worker", "LINUX", "ping -c 4 10.0.0.1"); got != "sudo ping -c 4 10.0.0.1" {
		t.Errorf("非特权账号应加 sudo 前缀: %s", got)
	}
	if got := SudoCommand("root", "LINUX", "ping -c 4 10.0.0.1"); got != "ping -c 4 10.0.0.1" {
		t.Errorf("root 账号不应加 sudo: %s", got)
	}
	if got := SudoCommand("worker", "WINDOWS", "ping -n 4 10.0.0.1"); got != "ping -n 4 10.0.0.1" {
		t.Errorf("Windows 主机不应加 sudo: %s", got)
	}
}
