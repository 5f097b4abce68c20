package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sshConn 同步 SSH 连接
type sshConn struct {
	opts   Options
	client *ssh.Client
}

// DialSSH 建立 SSH 连接。认证顺序：密钥优先，其次密码；
// 密钥解析失败时静默回退到密码认证，届时远端会给出明确的认证失败。
func DialSSH(opts Options) (Conn, error) {
	var methods []ssh.AuthMethod
	if opts.Key != "" {
		signer, err := ssh.ParsePrivateKey([]byte(opts.Key))
		if err == nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}
	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}
	if len(methods) == 0 {
		return nil, NewError(KindPermissionDenied, opts.Addr(), errors.New("没有可用的认证方式"))
	}

	cfg := &ssh.ClientConfig{
		User:            opts.Account,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.ConnectTimeout,
	}
	client, err := ssh.Dial("tcp", opts.Addr(), cfg)
	if err != nil {
		return nil, Classify(opts.Addr(), err, KindSession)
	}
	return &sshConn{opts: opts, client: client}, nil
}

func (c *sshConn) Run(ctx context.Context, cmd string, check bool, timeout time.Duration) (*Output, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, Classify(c.opts.Addr(), err, KindSession)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(cmd); err != nil {
		return nil, Classify(c.opts.Addr(), err, KindSession)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- session.Wait()
	}()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-waitCh:
	case <-timer.C:
		// 超时路径同样关闭会话，资源由连接自身回收
		_ = session.Close()
		return nil, NewError(KindTimeout, c.opts.Addr(),
			fmt.Errorf("命令执行超过 %s: %s", timeout, cmd))
	case <-ctx.Done():
		_ = session.Close()
		return nil, NewError(KindTimeout, c.opts.Addr(), ctx.Err())
	}

	output := &Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			output.ExitCode = exitErr.ExitStatus()
			if check {
				return output, NewError(KindProcess, c.opts.Addr(),
					fmt.Errorf("命令退出码 %d: %s", output.ExitCode, stderr.String()))
			}
			return output, nil
		}
		return output, Classify(c.opts.Addr(), err, KindConnectionLost)
	}
	return output, nil
}

func (c *sshConn) FileClient() (FileClient, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, Classify(c.opts.Addr(), err, KindIO)
	}
	return &sftpClient{addr: c.opts.Addr(), client: client}, nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

// sftpClient SFTP 文件操作句柄
type sftpClient struct {
	addr   string
	client *sftp.Client
}

func (c *sftpClient) Put(ctx context.Context, localPaths []string, remoteDir string) error {
	for _, localPath := range localPaths {
		if ctx.Err() != nil {
			return NewError(KindTimeout, c.addr, ctx.Err())
		}
		if err := c.putOne(localPath, remoteDir); err != nil {
			return err
		}
	}
	return nil
}

func (c *sftpClient) putOne(localPath, remoteDir string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return NewError(KindIO, c.addr, err)
	}
	defer local.Close()

	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	remote, err := c.client.Create(remotePath)
	if err != nil {
		return Classify(c.addr, err, KindIO)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, local); err != nil {
		return Classify(c.addr, err, KindIO)
	}
	return nil
}

func (c *sftpClient) PutContent(ctx context.Context, content []byte, remotePath string) error {
	if ctx.Err() != nil {
		return NewError(KindTimeout, c.addr, ctx.Err())
	}
	remote, err := c.client.Create(remotePath)
	if err != nil {
		return Classify(c.addr, err, KindIO)
	}
	defer remote.Close()

	if _, err := remote.Write(content); err != nil {
		return Classify(c.addr, err, KindIO)
	}
	return nil
}

func (c *sftpClient) Makedirs(ctx context.Context, dir string) error {
	if ctx.Err() != nil {
		return NewError(KindTimeout, c.addr, ctx.Err())
	}
	if err := c.client.MkdirAll(dir); err != nil {
		return Classify(c.addr, err, KindIO)
	}
	return nil
}

func (c *sftpClient) Close() error {
	return c.client.Close()
}
