package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// response 外部平台接口的统一响应包络
type response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// apiClient GSE/CMDB/密码库共用的 JSON-over-HTTP 调用器，
// 传输层错误做有上限的指数退避重试，业务错误码不重试。
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	maxRetries int
}

func newAPIClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *apiClient {
	return &apiClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: 3,
	}
}

// post 发起请求并把 data 解析进 result（result 为 nil 时丢弃）
func (c *apiClient) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("请求序列化失败: %w", err)
	}

	b := &backoff.Backoff{
		Min:    200 * time.Millisecond,
		Max:    3 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		envelope, err := c.doOnce(ctx, path, payload)
		if err != nil {
			lastErr = err
			c.logger.Warn("外部接口调用失败，准备重试",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if envelope.Code != 0 {
			return fmt.Errorf("接口 %s 返回错误码 %d: %s", path, envelope.Code, envelope.Message)
		}
		if result != nil && len(envelope.Data) > 0 {
			if err := json.Unmarshal(envelope.Data, result); err != nil {
				return fmt.Errorf("响应解析失败: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("接口 %s 重试耗尽: %w", path, lastErr)
}

func (c *apiClient) doOnce(ctx context.Context, path string, payload []byte) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Bkapi-Authorization", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("服务端错误 %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("非预期状态码 %d: %s", resp.StatusCode, string(raw))
	}

	var envelope response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("响应包络解析失败: %w", err)
	}
	return &envelope, nil
}
