package remote

import (
	"net"
	"strings"
	"time"
)

// Channel 远程执行通道类型
type Channel string

const (
	ChannelSSH          Channel = "ssh"
	ChannelWindowsAdmin Channel = "windows_admin"
)

// DetectChannel 轻量存活探测：尝试打开 SSH 通道，
// 不可用且目标为 Windows 时改走管理通道。
func DetectChannel(opts Options, timeout time.Duration) Channel {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := net.DialTimeout("tcp", opts.Addr(), timeout)
	if err == nil {
		_ = conn.Close()
		return ChannelSSH
	}
	if strings.EqualFold(opts.OSType, "WINDOWS") {
		return ChannelWindowsAdmin
	}
	return ChannelSSH
}

// Dial 按探测结果建立连接
func Dial(opts Options, channel Channel) (Conn, error) {
	if channel == ChannelWindowsAdmin {
		return DialWinRM(opts)
	}
	return DialSSH(opts)
}
