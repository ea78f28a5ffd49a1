package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sessionEventsPath = "/session-events"

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport 以 JSON POST 的方式上报到 <baseURL>/session-events。
type HTTPTransport struct {
	endpoint string
	client   httpDoer
}

// NewHTTPTransport 创建 HTTPTransport，client 为 nil 时使用 10 秒超时的默认客户端。
func NewHTTPTransport(baseURL string, client httpDoer) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTransport{
		endpoint: strings.TrimRight(baseURL, "/") + sessionEventsPath,
		client:   client,
	}
}

// Send 发送一个批次，非 2xx 响应视为失败。
func (t *HTTPTransport) Send(ctx context.Context, batch Batch) (Ack, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return Ack{}, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Ack{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// 服务端优先使用请求头里的 UA 生成设备快照。
	if batch.DeviceInfo != nil && batch.DeviceInfo.UserAgent != "" {
		req.Header.Set("User-Agent", batch.DeviceInfo.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Ack{}, fmt.Errorf("read response: %w", err)
	}

	var ack Ack
	decodeErr := json.Unmarshal(body, &ack)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && ack.Error != "" {
			return Ack{}, fmt.Errorf("server rejected batch (%d): %s", resp.StatusCode, ack.Error)
		}
		return Ack{}, fmt.Errorf("server rejected batch: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return Ack{}, fmt.Errorf("decode ack: %w", decodeErr)
	}
	return ack, nil
}
