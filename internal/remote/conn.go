package remote

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Output 远程命令执行结果
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// FileClient 远程文件操作句柄
type FileClient interface {
	// Put 上传一组本地文件到远端目录
	Put(ctx context.Context, localPaths []string, remoteDir string) error
	// PutContent 把内容直接写入远端文件
	PutContent(ctx context.Context, content []byte, remotePath string) error
	// Makedirs 递归创建远端目录
	Makedirs(ctx context.Context, path string) error
	Close() error
}

// Conn 远程连接句柄。每次调用独占持有，不跨任务共享，
// 任何退出路径（包括超时与异常）都必须释放连接。
type Conn interface {
	// Run 执行远程命令；check 为 true 时非零退出视为 KindProcess 错误
	Run(ctx context.Context, cmd string, check bool, timeout time.Duration) (*Output, error)
	// FileClient 打开文件操作句柄，由调用方负责关闭
	FileClient() (FileClient, error)
	Close() error
}

// Options 远程连接参数
type Options struct {
	Host           string        // 目标地址（IPv4 或 IPv6）
	Port           int           // 登录端口
	Account        string        // 登录账号
	Password       string        // 登录密码
	Key            string        // 登录私钥（PEM）
	OSType         string        // 操作系统类型（models.OSType*）
	ConnectTimeout time.Duration // 建立连接超时
}

// Addr 返回连接地址，IPv6 字面量自动加括号
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, fmt.Sprintf("%d", o.Port))
}

// 已知的特权账号，执行诊断命令时无需 sudo
var privilegedAccounts = map[string]struct{}{
	"root":          {},
	"Administrator": {},
	"administrator": {},
}

// SudoCommand 为非特权账号的诊断命令加 sudo 前缀；
// Windows 主机和特权账号保持原命令。
func SudoCommand(account, osType, cmd string) string {
	if strings.EqualFold(osType, "WINDOWS") {
		return cmd
	}
	if _, ok := privilegedAccounts[account]; ok {
		return cmd
	}
	return "sudo " + cmd
}
