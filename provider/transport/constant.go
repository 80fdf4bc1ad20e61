package transport

import (
	"time"
)

// DefaultTimeout 请求超时时间
const DefaultTimeout = 120 * time.Second

// API 路径，拼接时会去掉与 base URL 重复的 v1
const (
	ChatCompletionsPath = "v1/chat/completions"
	ResponsesPath       = "v1/responses"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeStream = "text/event-stream"
	maxErrorBodySize  = 1 << 20

	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)
