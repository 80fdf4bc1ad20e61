package openai

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ChatCompletionRequest 聊天补全请求
type ChatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	Reasoning     *Reasoning     `json:"reasoning,omitempty"`
}

// ChatMessage 消息结构，content 可为字符串或片段数组
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// StreamOptions 流式选项
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Reasoning 推理选项
type Reasoning struct {
	Effort string `json:"effort"`
}

// ChatCompletionResponse 聊天补全响应（同时用于流式分片）
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice 选择项
type Choice struct {
	Index        int          `json:"index"`
	Message      *ChoiceDelta `json:"message,omitempty"`
	Delta        *ChoiceDelta `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

// ChoiceDelta 消息或增量
type ChoiceDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

func lastUserText(messages []ChatMessage) (string, int) {
	last := ""
	prompt := 0
	for _, msg := range messages {
		text := textOf(msg.Content)
		prompt += calculateTokens(text)
		if msg.Role == "user" {
			last = text
		}
	}
	return last, prompt
}

func (s *Server) handleChatCompletion(c echo.Context) error {
	var req ChatCompletionRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.Model == RateLimitModel {
		return rateLimited(c)
	}

	lastUser, promptTokens := lastUserText(req.Messages)
	reply, thinking := MockReply(req.Model, lastUser)
	completionTokens := calculateTokens(reply) + calculateTokens(thinking)
	usage := &Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}

	if req.Stream {
		return s.streamChatCompletion(c, req, reply, thinking, usage)
	}

	stop := "stop"
	return c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      generateID("chatcmpl"),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Message:      &ChoiceDelta{Role: "assistant", Content: reply, ReasoningContent: thinking},
			FinishReason: &stop,
		}},
		Usage: usage,
	})
}

func (s *Server) streamChatCompletion(c echo.Context, req ChatCompletionRequest, reply string, thinking string, usage *Usage) error {
	w := startStream(c)
	id := generateID("chatcmpl")
	created := time.Now().Unix()

	chunk := func(delta ChoiceDelta) ChatCompletionResponse {
		return ChatCompletionResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []Choice{{Delta: &delta}},
		}
	}

	for _, word := range words(thinking) {
		if err := writeData(w, chunk(ChoiceDelta{ReasoningContent: word})); err != nil {
			return err
		}
		pause(req.Model)
	}
	for i, word := range words(reply) {
		if err := writeData(w, chunk(ChoiceDelta{Content: word})); err != nil {
			return err
		}
		if req.Model == MidstreamErrorModel && i == 0 {
			return writeData(w, ErrorBody{Error: ErrorDetail{Message: MidstreamErrorMessage, Type: "server_error"}})
		}
		pause(req.Model)
	}

	if req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
		final := ChatCompletionResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []Choice{},
			Usage:   usage,
		}
		if err := writeData(w, final); err != nil {
			return err
		}
	}
	return writeRaw(w, "[DONE]")
}
