package remote

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// WorstLatency 不可达端点的惩罚延迟（毫秒）。
// 缺失或无法解析的采样按最差延迟计，绝不让不可达端点占优。
const WorstLatency = 9999.0

// PingCommand 渲染远端执行的延迟探测命令，IPv6 目标使用对应命令模板
func PingCommand(osType, targetIP string, count int, timeout time.Duration) string {
	if count <= 0 {
		count = 4
	}
	isIPv6 := strings.Contains(targetIP, ":")
	if strings.EqualFold(osType, "WINDOWS") {
		flag := ""
		if isIPv6 {
			flag = "-6 "
		}
		return fmt.Sprintf("ping %s-n %d -w %d %s", flag, count, timeout.Milliseconds(), targetIP)
	}
	if isIPv6 {
		return fmt.Sprintf("ping6 -c %d %s", count, targetIP)
	}
	return fmt.Sprintf("ping -c %d -W %d %s", count, int(timeout.Seconds()), targetIP)
}

var (
	// Windows 本地化输出中的 time=Nms / time<1ms 样式
	windowsPingPattern = regexp.MustCompile(`(?i)[=<]([0-9.]+)ms`)
	// Linux/AIX 输出中的 time=12.3 ms 样式
	unixPingPattern = regexp.MustCompile(`time[=<]([0-9.]+) ?ms`)
)

// ParsePingLatencies 从 ping 输出提取各次采样的延迟（毫秒），
// 不足 count 的采样以 WorstLatency 补齐。
func ParsePingLatencies(osType, output string, count int) []float64 {
	if count <= 0 {
		count = 4
	}
	pattern := unixPingPattern
	if strings.EqualFold(osType, "WINDOWS") {
		pattern = windowsPingPattern
	}

	var samples []float64
	for _, match := range pattern.FindAllStringSubmatch(output, count) {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			samples = append(samples, WorstLatency)
			continue
		}
		samples = append(samples, value)
	}
	for len(samples) < count {
		samples = append(samples, WorstLatency)
	}
	return samples
}

// AvgLatency 计算平均延迟，无有效采样时返回 WorstLatency
func AvgLatency(samples []float64) float64 {
	if len(samples) == 0 {
		return WorstLatency
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// DirectPing 由编排端直接发起 ICMP 探测（目标直达时的快路径）。
// 全部丢包时返回 WorstLatency，不作为错误。
func DirectPing(target string, count int, timeout time.Duration) (float64, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return WorstLatency, err
	}
	if count <= 0 {
		count = 4
	}
	pinger.Count = count
	pinger.Timeout = timeout
	pinger.Interval = 100 * time.Millisecond

	// 先尝试非特权模式（UDP），失败时回退特权模式
	pinger.SetPrivileged(false)
	if err := pinger.Run(); err != nil {
		pinger.SetPrivileged(true)
		if err := pinger.Run(); err != nil {
			return WorstLatency, err
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return WorstLatency, nil
	}
	return float64(stats.AvgRtt.Microseconds()) / 1000.0, nil
}
