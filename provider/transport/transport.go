// Package transport 两种协议共用的 HTTP 细节
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pixia-chat/pixia/log"
	"github.com/pixia-chat/pixia/product"
	"github.com/pixia-chat/pixia/provider/llm"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

var logger *log.LogsObj

func init() {
	logger = log.New("transport")
}

// Config 适配器的连接配置
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client  // 为空时使用默认客户端
	Timeout    time.Duration // 非流式请求的总超时，流式只限制等待响应头
}

// Validate 校验 base URL 与 API Key
func (c Config) Validate() error {
	if _, err := parseBase(c.BaseURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return &llm.ConfigError{Err: llm.ErrMissingAPIKey}
	}
	return nil
}

// Client 返回 HTTP 客户端，未指定时使用同一超时下共享的客户端
func (c Config) Client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return SharedHTTPClient(c.timeout())
}

// sharedClients 按响应头超时缓存的客户端，连接池在回合之间复用
var sharedClients sync.Map

// SharedHTTPClient 返回该超时下的共享客户端
func SharedHTTPClient(headerTimeout time.Duration) *http.Client {
	if client, ok := sharedClients.Load(headerTimeout); ok {
		return client.(*http.Client)
	}
	client, _ := sharedClients.LoadOrStore(headerTimeout, NewHTTPClient(headerTimeout))
	return client.(*http.Client)
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// WithTimeout 为非流式请求附加超时
func (c Config) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout())
}

// NewHTTPClient 创建 HTTP 客户端，Client.Timeout 为 0 以免截断长时间的流
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

func parseBase(baseURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &llm.ConfigError{Err: llm.ErrInvalidBaseURL}
	}
	return u, nil
}

// Endpoint 拼接请求地址，base 以 /v1 结尾时去掉 path 开头重复的 v1/
func Endpoint(baseURL string, path string) (string, error) {
	u, err := parseBase(baseURL)
	if err != nil {
		return "", err
	}
	clean := strings.TrimPrefix(path, "/")
	basePath := strings.TrimRight(u.Path, "/")
	if strings.HasSuffix(basePath, "/v1") && strings.HasPrefix(clean, "v1/") {
		clean = strings.TrimPrefix(clean, "v1/")
	}
	return u.JoinPath(clean).String(), nil
}

// NewRequest 构造 JSON POST 请求
func NewRequest(ctx context.Context, endpoint string, apiKey string, payload any, stream bool) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	if stream {
		req.Header.Set("Accept", contentTypeStream)
	} else {
		req.Header.Set("Accept", contentTypeJSON)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("User-Agent", product.UserAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

// Do 发送请求并把错误归类，取消时返回 ctx 的错误
func Do(client *http.Client, req *http.Request) (*http.Response, error) {
	logger.Info("call %s (request %s)", req.URL.String(), req.Header.Get("X-Request-Id"))
	resp, err := client.Do(req)
	if err != nil {
		return nil, Classify(req.Context(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, StatusError(resp)
	}
	return resp, nil
}

// Classify 区分取消与网络错误
func Classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &llm.NetworkError{Err: err}
}

// StatusError 将非 2xx 响应转换为 HTTPError
func StatusError(resp *http.Response) error {
	body := ReadBody(resp)
	logger.Debug("error body: %s", string(body))
	if msg, ok := ErrorMessage(body); ok {
		return &llm.HTTPError{Status: resp.StatusCode, Message: msg}
	}
	return &llm.HTTPError{Status: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
}

// ReadBody 读取响应体并按 Content-Type 转为 UTF-8
func ReadBody(resp *http.Response) []byte {
	content, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil || len(content) == 0 {
		return content
	}
	e, name, _ := charset.DetermineEncoding(content, resp.Header.Get("Content-Type"))
	if name == "utf-8" {
		return content
	}
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(content), e.NewDecoder()))
	if err != nil {
		// 转换失败，兜底使用原始内容
		return content
	}
	return decoded
}

type errorEnvelope struct {
	Error   json.RawMessage `json:"error"`
	Message *string         `json:"message"`
}

// ErrorMessage 从载荷中提取 error.message 或顶层 message
func ErrorMessage(data []byte) (string, bool) {
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", false
	}
	if len(env.Error) > 0 {
		var nested struct {
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(env.Error, &nested); err == nil && nested.Message != nil && *nested.Message != "" {
			return *nested.Message, true
		}
		var plain string
		if err := json.Unmarshal(env.Error, &plain); err == nil && plain != "" {
			return plain, true
		}
	}
	if env.Message != nil && *env.Message != "" {
		return *env.Message, true
	}
	return "", false
}
