package chat

import (
	"context"
	"strings"
	"time"

	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/metrics"
	"github.com/pixia-chat/pixia/prompts"
	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/pixia-chat/pixia/storage"
	storageStructs "github.com/pixia-chat/pixia/storage/structs"
	"golang.org/x/text/unicode/norm"
)

// 标题任务参数
const (
	TitlePromptLength   = 16
	TitleMaxLength      = 18
	TitleHistoryCount   = 8
	TitleMessageLength  = 200
	TitleTemperature    = 0.2
	TitleMaxTokens      = 32
	TitleRequestTimeout = 30 * time.Second
)

const titleQuotes = "'\"“”‘’「」《》`"

// CleanTitle 取首个非空行，去除引号并截断
func CleanTitle(raw string) string {
	var line string
	for l := range strings.Lines(raw) {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	for {
		trimmed := strings.TrimSpace(strings.Trim(line, titleQuotes))
		if trimmed == line {
			break
		}
		line = trimmed
	}
	return strings.TrimSpace(truncateRunes(norm.NFC.String(line), TitleMaxLength))
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// titleCandidate 当前标题是否仍可自动改名，返回允许覆盖的标题集合
func titleCandidate(session *storageStructs.Sessions, history []storageStructs.Messages) (map[string]bool, bool) {
	var firstUser string
	hasUser, hasAssistant := false, false
	for _, msg := range history {
		switch msg.Role {
		case storageStructs.MessagesRoleUser:
			if !hasUser {
				firstUser = msg.Content
				hasUser = true
			}
		case storageStructs.MessagesRoleAssistant:
			hasAssistant = true
		}
	}
	if !hasAssistant {
		return nil, false
	}
	preview := storage.PreviewTitle(firstUser)
	if session.Title != storageStructs.DefaultSessionTitle && session.Title != preview {
		return nil, false
	}
	return map[string]bool{
		storageStructs.DefaultSessionTitle: true,
		preview:                            true,
		session.Title:                      true,
	}, true
}

// buildTitleRequest 以最近的非 system 消息构造标题请求
func buildTitleRequest(cfg structs.Config, history []storageStructs.Messages) (llm.Request, error) {
	var recent []prompts.TitleMessage
	for _, msg := range history {
		if msg.Role == storageStructs.MessagesRoleSystem {
			continue
		}
		recent = append(recent, prompts.TitleMessage{
			Role:    msg.Role.String(),
			Content: truncateRunes(strings.TrimSpace(msg.Content), TitleMessageLength),
		})
	}
	if len(recent) > TitleHistoryCount {
		recent = recent[len(recent)-TitleHistoryCount:]
	}

	system, err := prompts.Render(prompts.TitleSystemTemplate, prompts.TitleSystemData{MaxLength: TitlePromptLength})
	if err != nil {
		return llm.Request{}, err
	}
	transcript, err := prompts.Render(prompts.TitleTranscriptTemplate, prompts.TitleTranscriptData{Messages: recent})
	if err != nil {
		return llm.Request{}, err
	}
	maxTokens := TitleMaxTokens
	return llm.Request{
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: transcript},
		},
		Model:       cfg.Provider.Model,
		Temperature: TitleTemperature,
		MaxTokens:   &maxTokens,
		Options:     llm.RequestOptions{ReasoningEffort: llm.ReasoningOff},
	}, nil
}

// scheduleTitle 在后台生成标题，同一会话同时只运行一个
func (c *Controller) scheduleTitle(client llm.Client, cfg structs.Config) {
	if !cfg.Chat.AutoTitle {
		return
	}
	// Add 与 closed 检查在同一把锁内，Close 的 Wait 之后不会再有新任务
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.jobs.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.jobs.Done()
		c.titleGroup.Do(c.titleKey, func() (any, error) {
			c.metrics.TitleJob(c.runTitle(client, cfg))
			return nil, nil
		})
	}()
}

// runTitle 执行标题任务，错误只记录日志
func (c *Controller) runTitle(client llm.Client, cfg structs.Config) string {
	ctx, cancel := context.WithTimeout(c.baseCtx, TitleRequestTimeout)
	defer cancel()

	session, err := c.store.GetSession(ctx, c.sessionID)
	if err != nil {
		c.log.Warn("title: load session %d failed: %v", c.sessionID, err)
		return metrics.OutcomeFailed
	}
	history, err := c.store.MessagesInOrder(ctx, c.sessionID)
	if err != nil {
		c.log.Warn("title: load messages failed: %v", err)
		return metrics.OutcomeFailed
	}
	allowed, ok := titleCandidate(session, history)
	if !ok {
		return metrics.OutcomeSkipped
	}

	req, err := buildTitleRequest(cfg, history)
	if err != nil {
		c.log.Error("title: render prompt failed: %v", err)
		return metrics.OutcomeFailed
	}
	resp, err := client.Send(ctx, req)
	if err != nil {
		c.log.Warn("title: request failed: %v", err)
		return metrics.OutcomeFailed
	}
	title := CleanTitle(resp.Content)
	if title == "" {
		return metrics.OutcomeEmpty
	}

	// 请求期间标题被手动修改时放弃
	current, err := c.store.GetSession(ctx, c.sessionID)
	if err != nil {
		c.log.Warn("title: reload session failed: %v", err)
		return metrics.OutcomeFailed
	}
	if !allowed[current.Title] {
		c.log.Info("title: session %d renamed meanwhile, keep %q", c.sessionID, current.Title)
		return metrics.OutcomeSkipped
	}
	if err := c.store.RenameSession(ctx, c.sessionID, title); err != nil {
		c.log.Warn("title: rename failed: %v", err)
		return metrics.OutcomeFailed
	}
	c.log.Info("title: session %d renamed to %q", c.sessionID, title)
	return metrics.OutcomeRenamed
}
