// Package extractor 提供实体抽取服务客户端
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rag-answer-api/internal/application/retrieval"
	"rag-answer-api/internal/config"
)

type Client struct {
	endpoint   string
	httpClient *http.Client
}

var _ retrieval.EntityExtractor = (*Client)(nil)

type extractRequest struct {
	Text string `json:"text"`
}

type extractResponse struct {
	Entities []extractedEntity `json:"entities"`
}

type extractedEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// NewClient 创建实体抽取客户端
func NewClient(cfg *config.ExtractorConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Extract 从文本中抽取实体名称，去重后保持服务返回顺序
func (c *Client) Extract(ctx context.Context, text string) ([]string, error) {
	reqBody, err := json.Marshal(&extractRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extract request: %w", err)
	}

	endpoint := strings.TrimRight(c.endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("extractor endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid extractor endpoint: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/extract"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create extract request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("extract request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("extract request failed: status=%d", httpResp.StatusCode)
	}

	var resp extractResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode extract response: %w", err)
	}

	seen := make(map[string]struct{}, len(resp.Entities))
	names := make([]string, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}
