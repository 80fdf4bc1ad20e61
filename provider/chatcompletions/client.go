// Package chatcompletions Chat Completions 协议适配器
package chatcompletions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/pixia-chat/pixia/log"
	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/pixia-chat/pixia/provider/sse"
	"github.com/pixia-chat/pixia/provider/transport"
)

var logger *log.LogsObj

func init() {
	logger = log.New("chatcompletions")
}

// Client Chat Completions 客户端
type Client struct {
	cfg      transport.Config
	endpoint string
	http     *http.Client
}

var _ llm.Client = (*Client)(nil)

// New 创建客户端，base URL 或 Key 不合法时返回 ConfigError
func New(cfg transport.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := transport.Endpoint(cfg.BaseURL, transport.ChatCompletionsPath)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, endpoint: endpoint, http: cfg.Client()}, nil
}

// buildBody 构造请求体
func buildBody(req llm.Request, stream bool) requestBody {
	body := requestBody{
		Model:       req.Model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, toWire(msg))
	}
	if stream {
		body.Stream = true
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	// off 时整个字段都不出现
	if req.Options.ReasoningEffort.Enabled() {
		body.Reasoning = &reasoning{Effort: string(req.Options.ReasoningEffort)}
	}
	return body
}

// toWire 无图片时 content 为字符串，否则为片段数组
func toWire(msg llm.ChatMessage) wireMessage {
	if len(msg.Images) == 0 {
		return wireMessage{Role: string(msg.Role), Content: msg.Content}
	}
	parts := make([]contentPart, 0, len(msg.Images)+1)
	if msg.Content != "" {
		parts = append(parts, contentPart{Type: partTypeText, Text: msg.Content})
	}
	for _, img := range msg.Images {
		parts = append(parts, contentPart{Type: partTypeImageURL, ImageURL: &imageURL{URL: img.DataURL()}})
	}
	return wireMessage{Role: string(msg.Role), Content: parts}
}

// Send 非流式请求
func (c *Client) Send(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, cancel := c.cfg.WithTimeout(ctx)
	defer cancel()

	httpReq, err := transport.NewRequest(ctx, c.endpoint, c.cfg.APIKey, buildBody(req, false), false)
	if err != nil {
		return nil, err
	}
	resp, err := transport.Do(c.http, httpReq)
	if err != nil {
		logger.Error("call chat completions failed: %v", err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transport.Classify(ctx, err)
	}
	if msg, ok := transport.ErrorMessage(data); ok {
		logger.Error("chat completions returned error: %s", msg)
		return nil, &llm.HTTPError{Message: msg}
	}

	var parsed completion
	if err := json.Unmarshal(data, &parsed); err != nil {
		logger.Debug("error body: %s", string(data))
		return nil, &llm.DecodeError{Payload: string(data), Err: err}
	}

	message := parsed.firstChoice(false)
	out := &llm.Response{Usage: parsed.Usage.stats()}
	out.Content, _ = firstOf(message, fromContent)
	out.Reasoning, _ = firstOf(message, reasoningExtractors...)
	logger.Info("chat completions done, content %d bytes", len(out.Content))
	return out, nil
}

// Stream 流式请求，在 [DONE] 或连接结束时终止
func (c *Client) Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.StreamEvent, error] {
	return func(yield func(llm.StreamEvent, error) bool) {
		httpReq, err := transport.NewRequest(ctx, c.endpoint, c.cfg.APIKey, buildBody(req, true), true)
		if err != nil {
			yield(llm.StreamEvent{}, err)
			return
		}
		resp, err := transport.Do(c.http, httpReq)
		if err != nil {
			logger.Error("call chat completions stream failed: %v", err)
			yield(llm.StreamEvent{}, err)
			return
		}
		defer resp.Body.Close()

		for payload, err := range sse.Payloads(ctx, resp.Body) {
			if err != nil {
				yield(llm.StreamEvent{}, transport.Classify(ctx, err))
				return
			}
			if payload == sse.DoneMarker {
				return
			}
			events, err := decodeChunk(payload)
			if err != nil {
				// 单个载荷损坏时跳过
				logger.Debug("skip payload: %v: %s", err, payload)
				continue
			}
			for _, ev := range events {
				if !yield(ev.event, ev.err) || ev.err != nil {
					return
				}
			}
		}
	}
}

type chunkEvent struct {
	event llm.StreamEvent
	err   error
}

// decodeChunk 将一个流式分片转换为事件，错误载荷转换为终止错误
func decodeChunk(payload string) ([]chunkEvent, error) {
	data := []byte(payload)
	if msg, ok := transport.ErrorMessage(data); ok {
		logger.Error("chat completions stream error: %s", msg)
		return []chunkEvent{{err: &llm.HTTPError{Message: msg}}}, nil
	}
	var chunk completion
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, &llm.DecodeError{Payload: payload, Err: fmt.Errorf("chat completions chunk: %w", err)}
	}

	var events []chunkEvent
	delta := chunk.firstChoice(true)
	if text, ok := firstOf(delta, reasoningExtractors...); ok {
		events = append(events, chunkEvent{event: llm.ReasoningEvent(text)})
	}
	if text, ok := firstOf(delta, fromContent); ok {
		events = append(events, chunkEvent{event: llm.ContentEvent(text)})
	}
	if stats := chunk.Usage.stats(); stats != nil {
		events = append(events, chunkEvent{event: llm.UsageEvent(*stats)})
	}
	return events, nil
}
