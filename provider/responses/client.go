// Package responses Responses 协议适配器
package responses

import (
	"context"
	"encoding/json"
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
	logger = log.New("responses")
}

// Client Responses 客户端
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
	endpoint, err := transport.Endpoint(cfg.BaseURL, transport.ResponsesPath)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, endpoint: endpoint, http: cfg.Client()}, nil
}

// buildBody 构造请求体，图片与思考强度不会发送
func buildBody(req llm.Request, stream bool) requestBody {
	body := requestBody{
		Model:           req.Model,
		Input:           make([]inputItem, 0, len(req.Messages)),
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		Stream:          stream,
	}
	for _, msg := range req.Messages {
		if len(msg.Images) > 0 {
			logger.Warn("responses mode drops %d image(s) of %s message", len(msg.Images), msg.Role)
		}
		body.Input = append(body.Input, inputItem{
			Role:    string(msg.Role),
			Content: []inputPart{{Type: partTypeInputText, Text: msg.Content}},
		})
	}
	return body
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
		logger.Error("call responses failed: %v", err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transport.Classify(ctx, err)
	}
	if msg, ok := transport.ErrorMessage(data); ok {
		logger.Error("responses returned error: %s", msg)
		return nil, &llm.HTTPError{Message: msg}
	}

	var parsed responseBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		logger.Debug("error body: %s", string(data))
		return nil, &llm.DecodeError{Payload: string(data), Err: err}
	}
	out := &llm.Response{Content: extractOutput(&parsed), Usage: parsed.Usage.stats()}
	logger.Info("responses done, content %d bytes", len(out.Content))
	return out, nil
}

// Stream 流式请求，在 [DONE]、终止事件或连接结束时终止
func (c *Client) Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.StreamEvent, error] {
	return func(yield func(llm.StreamEvent, error) bool) {
		httpReq, err := transport.NewRequest(ctx, c.endpoint, c.cfg.APIKey, buildBody(req, true), true)
		if err != nil {
			yield(llm.StreamEvent{}, err)
			return
		}
		resp, err := transport.Do(c.http, httpReq)
		if err != nil {
			logger.Error("call responses stream failed: %v", err)
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
			step := decodeEvent(payload)
			if step.err != nil {
				yield(llm.StreamEvent{}, step.err)
				return
			}
			for _, ev := range step.events {
				if !yield(ev, nil) {
					return
				}
			}
			if step.done {
				return
			}
		}
	}
}

// eventStep 单个载荷的处理结果
type eventStep struct {
	events []llm.StreamEvent
	done   bool
	err    error
}

// decodeEvent 按事件类型转换载荷
func decodeEvent(payload string) eventStep {
	data := []byte(payload)
	if msg, ok := transport.ErrorMessage(data); ok {
		logger.Error("responses stream error: %s", msg)
		return eventStep{err: &llm.HTTPError{Message: msg}}
	}
	var ev streamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Debug("skip payload: %v: %s", err, payload)
		return eventStep{}
	}

	var step eventStep
	switch ev.Type {
	case eventOutputTextDelta:
		if text, ok := ev.deltaString(); ok {
			step.events = append(step.events, llm.ContentEvent(text))
		}
	case eventOutputText:
		if text, ok := ev.text(); ok {
			step.events = append(step.events, llm.ContentEvent(text))
		}
	case eventReasoningDelta, eventReasoningSummaryDelta:
		if text, ok := ev.deltaString(); ok {
			step.events = append(step.events, llm.ReasoningEvent(text))
		}
	case eventOutputTextDone, eventReasoningDone, eventReasoningSummaryDone:
	case eventCompleted, eventFailed, eventCanceled:
	default:
		if text, ok := ev.deltaText(); ok {
			step.events = append(step.events, llm.ContentEvent(text))
		} else if text, ok := ev.text(); ok {
			step.events = append(step.events, llm.ContentEvent(text))
		}
	}

	if isTerminal(ev.Type) {
		step.done = true
		if ev.Type != eventCompleted {
			// 失败与取消同样按正常结束处理
			logger.Warn("responses stream ended with %s", ev.Type)
		}
		if ev.Response != nil {
			if stats := ev.Response.Usage.stats(); stats != nil {
				step.events = append(step.events, llm.UsageEvent(*stats))
			}
		}
	}
	return step
}
