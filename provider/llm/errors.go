package llm

import (
	"errors"
	"fmt"
)

// 配置错误
var (
	ErrInvalidBaseURL = errors.New("invalid base URL")
	ErrMissingAPIKey  = errors.New("missing API key")
	ErrUnknownAPIMode = errors.New("unknown API mode")
)

// ConfigError 请求前即可发现的配置错误，不重试
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// HTTPError 服务端返回的错误，Status 为 0 表示 2xx 响应中的错误载荷
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string { return e.Message }

// DecodeError 单个载荷解析失败
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NetworkError 传输层错误
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
