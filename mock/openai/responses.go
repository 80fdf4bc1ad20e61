package openai

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ResponsesRequest Responses 请求
type ResponsesRequest struct {
	Model           string          `json:"model"`
	Input           []ResponseInput `json:"input"`
	Temperature     *float64        `json:"temperature,omitempty"`
	MaxOutputTokens *int            `json:"max_output_tokens,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
}

// ResponseInput 输入消息
type ResponseInput struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ResponseObject 非流式响应
type ResponseObject struct {
	ID     string          `json:"id"`
	Object string          `json:"object"`
	Model  string          `json:"model"`
	Status string          `json:"status"`
	Output []ResponseItem  `json:"output"`
	Usage  *ResponsesUsage `json:"usage,omitempty"`
}

// ResponseItem 输出项
type ResponseItem struct {
	Type    string            `json:"type"`
	Role    string            `json:"role,omitempty"`
	Content []ResponseContent `json:"content,omitempty"`
}

// ResponseContent 输出内容
type ResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponsesUsage Responses 用量
type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// StreamEvent 流式事件
type StreamEvent struct {
	Type     string          `json:"type"`
	Delta    string          `json:"delta,omitempty"`
	Text     string          `json:"text,omitempty"`
	Message  string          `json:"message,omitempty"`
	Response *ResponseObject `json:"response,omitempty"`
}

func (s *Server) handleResponses(c echo.Context) error {
	var req ResponsesRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.Model == RateLimitModel {
		return rateLimited(c)
	}

	lastUser := ""
	promptTokens := 0
	for _, in := range req.Input {
		text := textOf(in.Content)
		promptTokens += calculateTokens(text)
		if in.Role == "user" {
			lastUser = text
		}
	}
	reply, thinking := MockReply(req.Model, lastUser)
	outputTokens := calculateTokens(reply) + calculateTokens(thinking)
	obj := &ResponseObject{
		ID:     generateID("resp"),
		Object: "response",
		Model:  req.Model,
		Status: "completed",
		Output: []ResponseItem{{
			Type:    "message",
			Role:    "assistant",
			Content: []ResponseContent{{Type: "output_text", Text: reply}},
		}},
		Usage: &ResponsesUsage{
			InputTokens:  promptTokens,
			OutputTokens: outputTokens,
			TotalTokens:  promptTokens + outputTokens,
		},
	}

	if !req.Stream {
		return c.JSON(http.StatusOK, obj)
	}

	w := startStream(c)
	if err := writeEvent(w, StreamEvent{Type: "response.created"}); err != nil {
		return err
	}
	for _, word := range words(thinking) {
		if err := writeEvent(w, StreamEvent{Type: "response.reasoning_summary_text.delta", Delta: word}); err != nil {
			return err
		}
		pause(req.Model)
	}
	for i, word := range words(reply) {
		if err := writeEvent(w, StreamEvent{Type: "response.output_text.delta", Delta: word}); err != nil {
			return err
		}
		if req.Model == MidstreamErrorModel && i == 0 {
			return writeEvent(w, StreamEvent{Type: "error", Message: MidstreamErrorMessage})
		}
		pause(req.Model)
	}
	if err := writeEvent(w, StreamEvent{Type: "response.output_text.done", Text: reply}); err != nil {
		return err
	}
	return writeEvent(w, StreamEvent{Type: "response.completed", Response: obj})
}

func pause(model string) {
	if !isFlash(model) {
		time.Sleep(ChunkDelay)
	}
}
