package responses

import (
	"encoding/json"
	"strings"
)

// textExtractor 非流式文本提取策略
type textExtractor func(body *responseBody) (string, bool)

// outputExtractors 按顺序尝试
var outputExtractors = []textExtractor{fromOutputText, fromOutputItems, fromChatChoices}

func fromOutputText(body *responseBody) (string, bool) {
	if body.OutputText == nil {
		return "", false
	}
	return *body.OutputText, true
}

func fromOutputItems(body *responseBody) (string, bool) {
	var parts []string
	for _, item := range body.Output {
		for _, content := range item.Content {
			switch {
			case content.Text != nil:
				parts = append(parts, *content.Text)
			case content.OutputText != nil:
				parts = append(parts, *content.OutputText)
			}
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, ""), true
}

func fromChatChoices(body *responseBody) (string, bool) {
	if len(body.Choices) == 0 || body.Choices[0].Message == nil || body.Choices[0].Message.Content == nil {
		return "", false
	}
	return *body.Choices[0].Message.Content, true
}

func extractOutput(body *responseBody) string {
	for _, ex := range outputExtractors {
		if text, ok := ex(body); ok {
			return text
		}
	}
	return ""
}

// deltaString delta 为字符串时返回
func (e *streamEvent) deltaString() (string, bool) {
	if len(e.Delta) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.Delta, &s); err != nil {
		return "", false
	}
	return s, true
}

// deltaText delta 为 {text} 对象时返回
func (e *streamEvent) deltaText() (string, bool) {
	if len(e.Delta) == 0 {
		return "", false
	}
	var obj struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(e.Delta, &obj); err != nil || obj.Text == nil {
		return "", false
	}
	return *obj.Text, true
}

func (e *streamEvent) text() (string, bool) {
	if e.Text == nil {
		return "", false
	}
	return *e.Text, true
}

func isTerminal(eventType string) bool {
	switch eventType {
	case eventCompleted, eventFailed, eventCanceled:
		return true
	}
	return false
}
