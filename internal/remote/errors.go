package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	goerrors "github.com/go-errors/errors"
	"golang.org/x/crypto/ssh"
)

// Kind 远程操作错误分类
type Kind int

const (
	KindKeyExchange      Kind = iota + 1 // 密钥交换失败
	KindPermissionDenied                 // 认证被拒绝
	KindConnectionLost                   // 连接丢失
	KindDisconnect                       // 远端主动断开
	KindTimeout                          // 远程操作超时
	KindProcess                          // 命令非零退出（check=true 时）
	KindSession                          // 会话建立或通道错误
	KindIO                               // 远程文件操作错误
)

func (k Kind) String() string {
	switch k {
	case KindKeyExchange:
		return "key_exchange"
	case KindPermissionDenied:
		return "permission_denied"
	case KindConnectionLost:
		return "connection_lost"
	case KindDisconnect:
		return "disconnect"
	case KindTimeout:
		return "timeout"
	case KindProcess:
		return "process"
	case KindSession:
		return "session"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error 带分类的远程操作错误。调用方（原子步骤）捕获后
// 转化为对应实例的失败记录，绝不让单台主机的错误中断整批。
type Error struct {
	Kind Kind
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 创建分类错误并附带调用栈
func NewError(kind Kind, addr string, err error) *Error {
	return &Error{Kind: kind, Addr: addr, Err: goerrors.Wrap(err, 1)}
}

// Classify 把底层错误映射进错误分类，无法识别时使用 fallback
func Classify(addr string, err error, fallback Kind) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	kind := fallback
	msg := err.Error()
	var netErr net.Error
	var exitErr *ssh.ExitError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		kind = KindTimeout
	case errors.As(err, &exitErr):
		kind = KindProcess
	case strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "permission denied"):
		kind = KindPermissionDenied
	case strings.Contains(msg, "kex") || strings.Contains(msg, "key exchange") || strings.Contains(msg, "handshake failed"):
		kind = KindKeyExchange
	case strings.Contains(msg, "disconnected by") || strings.Contains(msg, "disconnect"):
		kind = KindDisconnect
	case errors.Is(err, io.EOF) || strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection refused"):
		kind = KindConnectionLost
	}
	return NewError(kind, addr, err)
}

// IsKind 判断错误是否属于指定分类
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
