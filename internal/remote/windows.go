package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/masterzen/winrm"
)

// DefaultWinRMPort Windows 管理通道默认端口
const DefaultWinRMPort = 5985

// winrmConn Windows 管理通道命令执行器，
// 用于 SSH 存活探测不可用的 Windows 主机。
type winrmConn struct {
	opts   Options
	client *winrm.Client
}

// DialWinRM 建立 Windows 管理通道连接
func DialWinRM(opts Options) (Conn, error) {
	port := opts.Port
	if port <= 0 || port == 22 {
		port = DefaultWinRMPort
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	endpoint := winrm.NewEndpoint(opts.Host, port, false, true, nil, nil, nil, timeout)
	client, err := winrm.NewClient(endpoint, opts.Account, opts.Password)
	if err != nil {
		return nil, Classify(opts.Addr(), err, KindSession)
	}
	return &winrmConn{opts: opts, client: client}, nil
}

func (c *winrmConn) Run(ctx context.Context, cmd string, check bool, timeout time.Duration) (*Output, error) {
	if ctx.Err() != nil {
		return nil, NewError(KindTimeout, c.opts.Addr(), ctx.Err())
	}
	stdout, stderr, exitCode, err := c.client.RunWithString(cmd, "")
	if err != nil {
		return nil, Classify(c.opts.Addr(), err, KindSession)
	}
	output := &Output{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
	if check && exitCode != 0 {
		return output, NewError(KindProcess, c.opts.Addr(),
			fmt.Errorf("命令退出码 %d: %s", exitCode, stderr))
	}
	return output, nil
}

func (c *winrmConn) FileClient() (FileClient, error) {
	// 文件分发走 SSH/SFTP，管理通道只承担命令执行
	return nil, NewError(KindIO, c.opts.Addr(), errors.New("windows 管理通道不支持文件推送"))
}

func (c *winrmConn) Close() error {
	return nil
}
