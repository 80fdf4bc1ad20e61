package responses

import (
	"encoding/json"

	"github.com/pixia-chat/pixia/provider/llm"
)

const partTypeInputText = "input_text"

// 流式事件类型
const (
	eventOutputTextDelta       = "response.output_text.delta"
	eventOutputText            = "response.output_text"
	eventOutputTextDone        = "response.output_text.done"
	eventReasoningDelta        = "response.reasoning_text.delta"
	eventReasoningSummaryDelta = "response.reasoning_summary_text.delta"
	eventReasoningDone         = "response.reasoning_text.done"
	eventReasoningSummaryDone  = "response.reasoning_summary_text.done"
	eventCompleted             = "response.completed"
	eventFailed                = "response.failed"
	eventCanceled              = "response.canceled"
)

// requestBody Responses 请求体
type requestBody struct {
	Model           string      `json:"model"`
	Input           []inputItem `json:"input"`
	Temperature     float64     `json:"temperature"`
	MaxOutputTokens *int        `json:"max_output_tokens,omitempty"`
	Stream          bool        `json:"stream,omitempty"`
}

type inputItem struct {
	Role    string      `json:"role"`
	Content []inputPart `json:"content"`
}

type inputPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// responseBody 非流式响应，兼容 Chat Completions 形状
type responseBody struct {
	OutputText *string      `json:"output_text"`
	Output     []outputItem `json:"output"`
	Choices    []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type outputItem struct {
	Content []outputContent `json:"content"`
}

type outputContent struct {
	Text       *string `json:"text"`
	OutputText *string `json:"output_text"`
}

// streamEvent 流式载荷，delta 可能是字符串或 {text}
type streamEvent struct {
	Type     string          `json:"type"`
	Delta    json.RawMessage `json:"delta"`
	Text     *string         `json:"text"`
	Response *struct {
		Usage *usage `json:"usage"`
	} `json:"response"`
}

// usage 同时接受 Responses 与 Chat Completions 的字段名
type usage struct {
	InputTokens      *int `json:"input_tokens"`
	OutputTokens     *int `json:"output_tokens"`
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

func (u *usage) stats() *llm.UsageStats {
	if u == nil {
		return nil
	}
	stats := llm.UsageStats{
		PromptTokens:     firstInt(u.InputTokens, u.PromptTokens),
		CompletionTokens: firstInt(u.OutputTokens, u.CompletionTokens),
		TotalTokens:      u.TotalTokens,
	}
	if stats.Empty() {
		return nil
	}
	return &stats
}

func firstInt(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
