// Package llm 模型请求与流式事件的公共类型
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strings"
)

// Role 消息角色
type Role string

// 角色
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImageAttachment 图片附件，只在序列化时编码
type ImageAttachment struct {
	Data     []byte
	MIMEType string
}

// DataURL 编码为 base64 data URL
func (i ImageAttachment) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ChatMessage 发往模型的一条消息
type ChatMessage struct {
	Role    Role
	Content string
	Images  []ImageAttachment
}

// ReasoningEffort 推理强度
type ReasoningEffort string

// 推理强度
const (
	ReasoningOff    ReasoningEffort = "off"
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// ParseReasoningEffort 解析推理强度，空串视为 off
func ParseReasoningEffort(s string) (ReasoningEffort, error) {
	switch e := ReasoningEffort(strings.ToLower(strings.TrimSpace(s))); e {
	case "", ReasoningOff:
		return ReasoningOff, nil
	case ReasoningLow, ReasoningMedium, ReasoningHigh:
		return e, nil
	default:
		return ReasoningOff, fmt.Errorf("unknown reasoning effort %q", s)
	}
}

// Enabled 是否需要在请求中携带 reasoning 字段
func (e ReasoningEffort) Enabled() bool {
	return e != "" && e != ReasoningOff
}

// RequestOptions 请求选项
type RequestOptions struct {
	ReasoningEffort ReasoningEffort
}

// Request 一次模型请求
type Request struct {
	Messages    []ChatMessage
	Model       string
	Temperature float64
	MaxTokens   *int
	Options     RequestOptions
}

// Client 模型协议适配器
type Client interface {
	// Send 非流式请求
	Send(ctx context.Context, req Request) (*Response, error)
	// Stream 流式请求，序列只能消费一次，提前 break 会关闭连接
	Stream(ctx context.Context, req Request) iter.Seq2[StreamEvent, error]
}
