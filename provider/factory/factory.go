// Package factory 按接口模式创建适配器
package factory

import (
	"fmt"
	"time"

	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/provider/chatcompletions"
	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/pixia-chat/pixia/provider/responses"
	"github.com/pixia-chat/pixia/provider/transport"
)

// Func 根据提供者配置与 API Key 创建客户端
type Func func(provider structs.ProviderConfig, apiKey string) (llm.Client, error)

// New 创建指定模式的客户端
func New(mode string, cfg transport.Config) (llm.Client, error) {
	switch mode {
	case structs.APIModeChatCompletions:
		return chatcompletions.New(cfg)
	case structs.APIModeResponses:
		return responses.New(cfg)
	default:
		return nil, &llm.ConfigError{Err: fmt.Errorf("%w: %q", llm.ErrUnknownAPIMode, mode)}
	}
}

// FromConfig 根据提供者配置创建客户端
func FromConfig(provider structs.ProviderConfig, apiKey string) (llm.Client, error) {
	timeout := time.Duration(provider.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = transport.DefaultTimeout
	}
	return New(provider.APIMode, transport.Config{
		BaseURL:    provider.BaseURL,
		APIKey:     apiKey,
		HTTPClient: transport.SharedHTTPClient(timeout),
		Timeout:    timeout,
	})
}

var _ Func = FromConfig
