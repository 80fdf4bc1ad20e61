package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pixia-chat/pixia/mock/openai"
	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/pixia-chat/pixia/provider/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(transport.Config{BaseURL: baseURL, APIKey: "sk-test"})
	require.NoError(t, err)
	return c
}

func userRequest(model string, text string) llm.Request {
	return llm.Request{
		Model:       model,
		Temperature: 0.7,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: text}},
	}
}

func collect(t *testing.T, c *Client, req llm.Request) ([]llm.StreamEvent, error) {
	t.Helper()
	var events []llm.StreamEvent
	for ev, err := range c.Stream(context.Background(), req) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func textOf(events []llm.StreamEvent, kind llm.EventKind) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == kind {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

// sseServer 按给定的 data 载荷返回流
func sseServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func jsonServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestBuildBody 测试请求体序列化
func TestBuildBody(t *testing.T) {
	maxTokens := 64
	req := llm.Request{
		Model:       "gpt-5.2",
		Temperature: 0.2,
		MaxTokens:   &maxTokens,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hi", Images: []llm.ImageAttachment{{Data: []byte{0xff}}}},
		},
		Options: llm.RequestOptions{ReasoningEffort: llm.ReasoningHigh},
	}
	data, err := json.Marshal(buildBody(req, true))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"model": "gpt-5.2",
		"input": [
			{"role": "system", "content": [{"type": "input_text", "text": "be brief"}]},
			{"role": "user", "content": [{"type": "input_text", "text": "hi"}]}
		],
		"temperature": 0.2,
		"max_output_tokens": 64,
		"stream": true
	}`, string(data))

	data, err = json.Marshal(buildBody(userRequest("m", "x"), false))
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.NotContains(t, body, "stream")
	assert.NotContains(t, body, "max_output_tokens")
	assert.NotContains(t, body, "reasoning")
}

// TestSendMock 测试非流式请求
func TestSendMock(t *testing.T) {
	mock := openai.New()
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	resp, err := newClient(t, srv.URL+"/v1").Send(context.Background(), userRequest("echo-chat", "ping"))
	require.NoError(t, err)
	assert.Equal(t, "ping", resp.Content)
	assert.Empty(t, resp.Reasoning)
	require.NotNil(t, resp.Usage)
	total, ok := resp.Usage.Total()
	assert.True(t, ok)
	assert.Greater(t, total, 0)

	last, ok := mock.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "/v1/responses", last.Path)
}

// TestSendExtraction 测试非流式文本提取顺序
func TestSendExtraction(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"output_text", `{"output_text":"top","output":[{"content":[{"text":"nested"}]}]}`, "top"},
		{"output items", `{"output":[{"content":[{"text":"a"},{"output_text":"b"}]},{"content":[{"text":"c"}]}]}`, "abc"},
		{"chat shape", `{"choices":[{"message":{"content":"legacy"}}]}`, "legacy"},
		{"nothing", `{"output":[]}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := newClient(t, jsonServer(t, tt.body).URL).Send(context.Background(), userRequest("m", "x"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Content)
		})
	}
}

// TestSendUsageAliases 测试用量字段别名
func TestSendUsageAliases(t *testing.T) {
	srv := jsonServer(t, `{"output_text":"x","usage":{"prompt_tokens":4,"completion_tokens":6}}`)
	resp, err := newClient(t, srv.URL).Send(context.Background(), userRequest("m", "x"))
	require.NoError(t, err)
	require.NotNil(t, resp.Usage)
	total, ok := resp.Usage.Total()
	assert.True(t, ok)
	assert.Equal(t, 10, total)
}

// TestSendErrors 测试错误响应
func TestSendErrors(t *testing.T) {
	srv := httptest.NewServer(openai.New().Handler())
	defer srv.Close()

	_, err := newClient(t, srv.URL).Send(context.Background(), userRequest(openai.RateLimitModel, "x"))
	var httpErr *llm.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Status)
	assert.Equal(t, "rate limited", err.Error())

	_, err = newClient(t, jsonServer(t, `{"error":{"message":"bad input"}}`).URL).Send(context.Background(), userRequest("m", "x"))
	assert.EqualError(t, err, "bad input")

	_, err = newClient(t, jsonServer(t, `<html>`).URL).Send(context.Background(), userRequest("m", "x"))
	var decodeErr *llm.DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

// TestStreamMock 测试 mock 服务的思考、内容与用量
func TestStreamMock(t *testing.T) {
	srv := httptest.NewServer(openai.New().Handler())
	defer srv.Close()

	events, err := collect(t, newClient(t, srv.URL), userRequest("echo-chat-flash-thinking", "one two"))
	require.NoError(t, err)
	assert.Equal(t, "one two", textOf(events, llm.EventContent))
	assert.Equal(t, openai.ThinkingText, textOf(events, llm.EventReasoning))

	last := events[len(events)-1]
	require.Equal(t, llm.EventUsage, last.Kind)
	total, ok := last.Usage.Total()
	assert.True(t, ok)
	assert.Greater(t, total, 0)
}

// TestStreamEventTypes 测试各事件类型的处理
func TestStreamEventTypes(t *testing.T) {
	srv := sseServer(t,
		`{"type":"response.created"}`,
		`{"type":"response.output_text.delta","delta":"He"}`,
		`{"type":"response.reasoning_text.delta","delta":"think"}`,
		`{"type":"response.reasoning_text.done","text":"think"}`,
		`{"type":"response.output_text","text":"llo"}`,
		`{"type":"response.output_text.done","text":"Hello"}`,
		`{"type":"custom.delta","delta":{"text":" wo"}}`,
		`{"type":"custom.text","text":"rld"}`,
		`not-json`,
		`{"type":"response.completed","response":{"usage":{"input_tokens":2,"output_tokens":3,"total_tokens":5}}}`,
		`{"type":"response.output_text.delta","delta":"after end"}`,
	)
	events, err := collect(t, newClient(t, srv.URL), userRequest("m", "x"))
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, llm.ContentEvent("He"), events[0])
	assert.Equal(t, llm.ReasoningEvent("think"), events[1])
	assert.Equal(t, "Hello world", textOf(events, llm.EventContent))
	require.Equal(t, llm.EventUsage, events[5].Kind)
	total, ok := events[5].Usage.Total()
	assert.True(t, ok)
	assert.Equal(t, 5, total)
}

// TestStreamTerminalEvents 测试失败与取消事件同样正常结束
func TestStreamTerminalEvents(t *testing.T) {
	for _, terminal := range []string{"response.failed", "response.canceled"} {
		t.Run(terminal, func(t *testing.T) {
			srv := sseServer(t,
				`{"type":"response.output_text.delta","delta":"partial"}`,
				fmt.Sprintf(`{"type":%q}`, terminal),
				`{"type":"response.output_text.delta","delta":"ignored"}`,
			)
			events, err := collect(t, newClient(t, srv.URL), userRequest("m", "x"))
			require.NoError(t, err)
			assert.Equal(t, []llm.StreamEvent{llm.ContentEvent("partial")}, events)
		})
	}
}

// TestStreamDone 测试 [DONE] 结束流
func TestStreamDone(t *testing.T) {
	srv := sseServer(t,
		`{"type":"response.output_text.delta","delta":"a"}`,
		`[DONE]`,
		`{"type":"response.output_text.delta","delta":"b"}`,
	)
	events, err := collect(t, newClient(t, srv.URL), userRequest("m", "x"))
	require.NoError(t, err)
	assert.Equal(t, []llm.StreamEvent{llm.ContentEvent("a")}, events)
}

// TestStreamErrorEvent 测试错误事件
func TestStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(openai.New().Handler())
	defer srv.Close()

	events, err := collect(t, newClient(t, srv.URL), userRequest(openai.MidstreamErrorModel, "x"))
	require.Error(t, err)
	assert.Equal(t, openai.MidstreamErrorMessage, err.Error())
	assert.Len(t, events, 1)

	srv2 := sseServer(t, `{"type":"error","error":{"message":"quota"}}`)
	_, err = collect(t, newClient(t, srv2.URL), userRequest("m", "x"))
	assert.EqualError(t, err, "quota")
}

// TestStreamCancel 测试取消后停止消费
func TestStreamCancel(t *testing.T) {
	srv := httptest.NewServer(openai.New().Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var events []llm.StreamEvent
	var lastErr error
	for ev, err := range newClient(t, srv.URL).Stream(ctx, userRequest("test-chat", "x")) {
		if err != nil {
			lastErr = err
			break
		}
		events = append(events, ev)
		cancel()
	}
	assert.Len(t, events, 1)
	assert.ErrorIs(t, lastErr, context.Canceled)
}
