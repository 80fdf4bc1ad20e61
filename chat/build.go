package chat

import (
	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/provider/llm"
	storageStructs "github.com/pixia-chat/pixia/storage/structs"
)

// toChatMessage 将持久化的消息转换为请求消息
func toChatMessage(msg storageStructs.Messages) llm.ChatMessage {
	out := llm.ChatMessage{Role: llm.Role(msg.Role.String()), Content: msg.Content}
	if msg.HasImage() {
		out.Images = []llm.ImageAttachment{{Data: msg.ImageData, MIMEType: msg.ImageMIME}}
	}
	return out
}

// BuildMessages 构造请求消息列表，limit > 0 时保留全部 system 消息与最后 limit 条其他消息
func BuildMessages(history []storageStructs.Messages, limit int) []llm.ChatMessage {
	if limit <= 0 {
		out := make([]llm.ChatMessage, 0, len(history))
		for _, msg := range history {
			out = append(out, toChatMessage(msg))
		}
		return out
	}

	var system, rest []llm.ChatMessage
	for _, msg := range history {
		if msg.Role == storageStructs.MessagesRoleSystem {
			system = append(system, toChatMessage(msg))
		} else {
			rest = append(rest, toChatMessage(msg))
		}
	}
	if len(rest) > limit {
		rest = rest[len(rest)-limit:]
	}
	return append(system, rest...)
}

// buildRequest 按设置构造请求
func buildRequest(cfg structs.Config, history []storageStructs.Messages) llm.Request {
	effort, err := llm.ParseReasoningEffort(cfg.Provider.ReasoningEffort)
	if err != nil {
		logger.Warn("ignore reasoning effort: %v", err)
	}
	return llm.Request{
		Messages:    BuildMessages(history, cfg.Chat.ContextLimit),
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokensPtr(),
		Options:     llm.RequestOptions{ReasoningEffort: effort},
	}
}
