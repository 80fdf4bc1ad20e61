// Package openai 一个兼容 OpenAI API 的模拟服务器
//
// 使用说明:
//
//  1. 运行服务器:
//     pixia mock --addr :56108
//     服务器将在 http://localhost:56108 启动
//
// 2. API 端点:
//
//		a) 聊天补全 (Chat Completions)
//		   POST /v1/chat/completions
//
//		   示例请求:
//		   curl -X POST http://localhost:56108/v1/chat/completions \
//		     -H "Authorization: Bearer sk-mock" \
//		     -H "Content-Type: application/json" \
//		     -d '{
//		       "model": "test-chat",
//		       "messages": [
//		         {"role": "user", "content": "Hello, how are you?"}
//		       ],
//		       "stream": true,
//		       "stream_options": {"include_usage": true}
//		     }'
//
//		   响应: stream 为 true 时返回 Server-Sent Events，每个 chunk 一个增量，以 data: [DONE] 结束
//
//		b) Responses
//		   POST /v1/responses
//
//		   示例请求:
//		   curl -X POST http://localhost:56108/v1/responses \
//		     -H "Authorization: Bearer sk-mock" \
//		     -H "Content-Type: application/json" \
//		     -d '{
//		       "model": "echo-chat",
//		       "input": [{"role": "user", "content": [{"type": "input_text", "text": "hi"}]}],
//		       "stream": true
//		     }'
//
//		   响应: 流式事件以 type 区分，以 response.completed 结束
//
//		c) 模型列表 (Models)
//		   GET /v1/models
//
// 3. 支持的模型:
//   - test-chat: 固定回复，每个分片间隔 50ms
//   - test-chat-flash: 同上，无延迟
//   - test-chat-thinking / test-chat-flash-thinking: 先输出思考增量
//   - echo-chat / echo-chat-flash: 回显最后一条用户消息
//   - error-429: 返回 429 与 {"error":{"message":"rate limited"}}
//   - error-midstream: 输出一个增量后返回错误载荷
//
// 4. 注意事项:
//   - 请求必须携带 Bearer token，否则返回 401
//   - Token 计算基于简单的空格分词，仅供参考
package openai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// --- configs ---

// Addr 服务端口号
// 格式: ":端口" 或 "主机:端口"
const Addr = ":56108"

// ChunkDelay 非 flash 模型每个分片的间隔
const ChunkDelay = 50 * time.Millisecond

// RateLimitModel 固定返回 429 的模型
const RateLimitModel = "error-429"

// MidstreamErrorModel 流中途报错的模型
const MidstreamErrorModel = "error-midstream"

// MidstreamErrorMessage 流中途错误信息
const MidstreamErrorMessage = "upstream overloaded"

// ThinkingText 思考模型输出的思考内容
const ThinkingText = "This is a CoT string."

// ModelIDs 可用的模型列表
var ModelIDs = []string{
	"test-chat",
	"test-chat-flash", // 关闭延迟
	"test-chat-thinking",
	"test-chat-flash-thinking", // 关闭延迟，思维链
	"echo-chat",
	"echo-chat-flash", // 关闭延迟
	RateLimitModel,
	MidstreamErrorModel,
}

// --- configs end ---

// Model 模型信息
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse 模型列表响应
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Usage 使用情况统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorBody 错误响应
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误信息
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// MockReply 模型的回复内容与思考内容
func MockReply(model string, lastUser string) (reply string, thinking string) {
	if strings.Contains(model, "-thinking") {
		thinking = ThinkingText
	}
	if strings.HasPrefix(model, "echo") {
		return strings.TrimSpace(lastUser), thinking
	}
	return fmt.Sprintf("This is a mock response from model %s. Your message was received and processed.", model), thinking
}

func isFlash(model string) bool {
	return strings.Contains(model, "-flash") || strings.HasPrefix(model, "error-")
}

func calculateTokens(text string) int {
	return len(strings.Fields(text))
}

func generateID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// words 按空格切分并保留分隔空格，拼接后等于原文
func words(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, len(fields))
	for i, f := range fields {
		if i < len(fields)-1 {
			f += " "
		}
		out[i] = f
	}
	return out
}

// textOf 从 string 或 [{type,text}] 形状的 content 中取文本
func textOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
