package chatcompletions

import "github.com/pixia-chat/pixia/provider/llm"

// 内容片段类型
const (
	partTypeText     = "text"
	partTypeImageURL = "image_url"
)

// requestBody Chat Completions 请求体
type requestBody struct {
	Model         string         `json:"model"`
	Messages      []wireMessage  `json:"messages"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	Reasoning     *reasoning     `json:"reasoning,omitempty"`
}

// wireMessage content 为 string 或 []contentPart
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type reasoning struct {
	Effort string `json:"effort"`
}

// completion 非流式响应与流式分片的共同形状
type completion struct {
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage"`
}

type choice struct {
	Message *messageBody `json:"message"`
	Delta   *messageBody `json:"delta"`
}

type messageBody struct {
	Content          *string `json:"content"`
	ReasoningContent *string `json:"reasoning_content"`
	Reasoning        *string `json:"reasoning"`
}

type usage struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

func (u *usage) stats() *llm.UsageStats {
	if u == nil {
		return nil
	}
	stats := llm.UsageStats{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if stats.Empty() {
		return nil
	}
	return &stats
}
