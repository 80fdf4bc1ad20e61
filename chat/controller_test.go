package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/provider/factory"
	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/pixia-chat/pixia/secret"
	storageStructs "github.com/pixia-chat/pixia/storage/structs"
	"github.com/pixia-chat/pixia/ui/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second
const tick = 5 * time.Millisecond

// TestSendStream 测试流式回合保存助手消息
func TestSendStream(t *testing.T) {
	h := newHarness(t)
	client := &fakeClient{events: []llm.StreamEvent{
		llm.ReasoningEvent("think"),
		llm.ContentEvent("H"),
		llm.ContentEvent("i"),
		llm.UsageEvent(llm.UsageStats{TotalTokens: ptr(7)}),
	}}
	h.use(client)
	c := h.controller()

	require.True(t, c.Send(context.Background(), "  hello  ", nil))
	c.Wait()

	messages := h.messages()
	assert.Equal(t, []string{"user:hello", "assistant:Hi"}, roles(messages))
	assert.Equal(t, "think", messages[1].Reasoning)

	snap := c.Snapshot()
	assert.Equal(t, state.StateIdle, snap.State)
	assert.Empty(t, snap.Draft)
	assert.Empty(t, snap.Error)
	require.NotNil(t, snap.Usage)
	total, ok := snap.Usage.Total()
	assert.True(t, ok)
	assert.Equal(t, 7, total)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []llm.ChatMessage{{Role: llm.RoleUser, Content: "hello"}}, reqs[0].Messages)
	assert.Equal(t, "gpt-5.2", reqs[0].Model)
	assert.Equal(t, 1024, *reqs[0].MaxTokens)
}

// TestSendSystemPrompt 测试首条消息前写入 system 提示词
func TestSendSystemPrompt(t *testing.T) {
	h := newHarness(t)
	h.configure(func(cfg *structs.Config) { cfg.Chat.SystemPrompt = "be brief" })
	h.use(&fakeClient{events: []llm.StreamEvent{llm.ContentEvent("ok")}})
	c := h.controller()

	require.True(t, c.Send(context.Background(), "one", nil))
	c.Wait()
	require.True(t, c.Send(context.Background(), "two", nil))
	c.Wait()

	assert.Equal(t, []string{"system:be brief", "user:one", "assistant:ok", "user:two", "assistant:ok"}, roles(h.messages()))
}

// TestSendImage 测试图片随用户消息保存并发送
func TestSendImage(t *testing.T) {
	h := newHarness(t)
	client := &fakeClient{events: []llm.StreamEvent{llm.ContentEvent("a cat")}}
	h.use(client)
	c := h.controller()

	image := &llm.ImageAttachment{Data: []byte{0xff, 0xd8}, MIMEType: "image/png"}
	require.True(t, c.Send(context.Background(), "", image))
	c.Wait()

	messages := h.messages()
	require.Len(t, messages, 2)
	assert.Equal(t, []byte{0xff, 0xd8}, messages[0].ImageData)
	req := client.Requests()[0]
	require.Len(t, req.Messages[0].Images, 1)
	assert.Equal(t, "image/png", req.Messages[0].Images[0].MIMEType)
}

// TestSendRejects 测试无副作用的失败
func TestSendRejects(t *testing.T) {
	h := newHarness(t)
	c := h.controller()

	assert.False(t, c.Send(context.Background(), "   ", nil))
	assert.False(t, c.Send(context.Background(), "", &llm.ImageAttachment{}))
	assert.Empty(t, h.messages())

	require.NoError(t, h.store.DeleteSession(context.Background(), h.session.ID))
	assert.False(t, c.Send(context.Background(), "hello", nil))
}

// TestSendConfigError 测试配置错误在保存前发现
func TestSendConfigError(t *testing.T) {
	h := newHarness(t)
	c := New(h.session.ID, h.store, h.settings, secret.NewMemoryStore(nil), WithClientFactory(factory.FromConfig))
	t.Cleanup(c.Close)

	assert.False(t, c.Send(context.Background(), "hello", nil))
	assert.Equal(t, "missing API key", c.Snapshot().Error)
	assert.Empty(t, h.messages())

	h.configure(func(cfg *structs.Config) { cfg.Provider.BaseURL = "not a url" })
	c2 := New(h.session.ID, h.store, h.settings, secret.NewMemoryStore(map[string]string{secret.APIKeyName: "sk"}))
	t.Cleanup(c2.Close)
	assert.False(t, c2.Send(context.Background(), "hello", nil))
	assert.Equal(t, "invalid base URL", c2.Snapshot().Error)
	assert.Empty(t, h.messages())
}

// TestStopPersistsDraft 测试停止时保存已收到的草稿
func TestStopPersistsDraft(t *testing.T) {
	h := newHarness(t)
	feed := make(chan llm.StreamEvent)
	h.use(&fakeClient{feed: feed})

	var mu sync.Mutex
	var seen []state.State
	c := h.controller(WithObserver(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.State)
	}))

	require.True(t, c.Send(context.Background(), "tell me", nil))
	feed <- llm.ContentEvent("partial")
	feed <- llm.ReasoningEvent("r")
	assert.Eventually(t, func() bool { return c.Snapshot().ReasoningDraft == "r" }, eventually, tick)
	snap := c.Snapshot()
	assert.Equal(t, state.StateStreaming, snap.State)
	assert.True(t, snap.Streaming)
	assert.Equal(t, "partial", snap.Draft)

	c.Stop()
	c.Wait()

	messages := h.messages()
	assert.Equal(t, []string{"user:tell me", "assistant:partial"}, roles(messages))
	assert.Equal(t, "r", messages[1].Reasoning)
	assert.Equal(t, state.StateIdle, c.Snapshot().State)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, state.StateSending)
	assert.Contains(t, seen, state.StateStreaming)
	assert.Equal(t, state.StateIdle, seen[len(seen)-1])
}

// TestStopEmptyDraft 测试空草稿不保存
func TestStopEmptyDraft(t *testing.T) {
	h := newHarness(t)
	h.use(&fakeClient{feed: make(chan llm.StreamEvent)})
	c := h.controller()

	require.True(t, c.Send(context.Background(), "q", nil))
	assert.Eventually(t, func() bool { return c.Snapshot().State == state.StateStreaming }, eventually, tick)
	c.Stop()
	c.Wait()
	assert.Equal(t, []string{"user:q"}, roles(h.messages()))
}

// TestCancelDiscardsDraft 测试取消时丢弃草稿
func TestCancelDiscardsDraft(t *testing.T) {
	h := newHarness(t)
	feed := make(chan llm.StreamEvent)
	h.use(&fakeClient{feed: feed})

	var mu sync.Mutex
	var seen []state.State
	c := h.controller(WithObserver(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.State)
	}))

	require.True(t, c.Send(context.Background(), "tell me", nil))
	feed <- llm.ContentEvent("partial")
	assert.Eventually(t, func() bool { return c.Snapshot().Draft == "partial" }, eventually, tick)

	c.Cancel()
	c.Wait()
	assert.Equal(t, []string{"user:tell me"}, roles(h.messages()))
	assert.Empty(t, c.Snapshot().Draft)
	assert.Empty(t, c.Snapshot().Error)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, state.StateCancelled)
}

// TestSupersededTurn 测试新回合开始后旧回合的结果不会保存
func TestSupersededTurn(t *testing.T) {
	h := newHarness(t)
	oldFeed := make(chan llm.StreamEvent, 4)
	old := &fakeClient{feed: oldFeed}
	fresh := &fakeClient{events: []llm.StreamEvent{llm.ContentEvent("new")}}
	h.use(old, fresh)
	c := h.controller()

	require.True(t, c.Send(context.Background(), "first", nil))
	oldFeed <- llm.ContentEvent("old")
	assert.Eventually(t, func() bool { return c.Snapshot().Draft == "old" }, eventually, tick)

	require.True(t, c.Send(context.Background(), "second", nil))
	oldFeed <- llm.ContentEvent("late")
	close(oldFeed)
	c.Wait()

	assert.Equal(t, []string{"user:first", "user:second", "assistant:new"}, roles(h.messages()))
}

// TestStreamError 测试流错误丢弃草稿并显示信息
func TestStreamError(t *testing.T) {
	h := newHarness(t)
	h.use(&fakeClient{
		events:    []llm.StreamEvent{llm.ContentEvent("half")},
		streamErr: &llm.HTTPError{Status: 429, Message: "rate limited"},
	})
	c := h.controller()

	require.True(t, c.Send(context.Background(), "x", nil))
	c.Wait()
	snap := c.Snapshot()
	assert.Equal(t, "rate limited", snap.Error)
	assert.Equal(t, state.StateIdle, snap.State)
	assert.Empty(t, snap.Draft)
	assert.Equal(t, []string{"user:x"}, roles(h.messages()))

	// 下一回合清除错误
	h.use(&fakeClient{events: []llm.StreamEvent{llm.ContentEvent("ok")}})
	require.True(t, c.Send(context.Background(), "again", nil))
	c.Wait()
	assert.Empty(t, c.Snapshot().Error)
}

// TestNonStream 测试非流式回合
func TestNonStream(t *testing.T) {
	h := newHarness(t)
	h.configure(func(cfg *structs.Config) { cfg.Provider.Stream = false })
	h.use(&fakeClient{resp: &llm.Response{
		Content:   "answer",
		Reasoning: "because",
		Usage:     &llm.UsageStats{PromptTokens: ptr(2), CompletionTokens: ptr(3)},
	}})
	c := h.controller()

	require.True(t, c.Send(context.Background(), "q", nil))
	c.Wait()

	messages := h.messages()
	assert.Equal(t, []string{"user:q", "assistant:answer"}, roles(messages))
	assert.Equal(t, "because", messages[1].Reasoning)
	total, ok := c.Snapshot().Usage.Total()
	assert.True(t, ok)
	assert.Equal(t, 5, total)
}

// TestNonStreamEmpty 测试空回复不保存
func TestNonStreamEmpty(t *testing.T) {
	h := newHarness(t)
	h.configure(func(cfg *structs.Config) { cfg.Provider.Stream = false })
	h.use(&fakeClient{resp: &llm.Response{Reasoning: "only thoughts"}})
	c := h.controller()

	require.True(t, c.Send(context.Background(), "q", nil))
	c.Wait()
	assert.Equal(t, []string{"user:q"}, roles(h.messages()))
}

// TestNonStreamError 测试非流式错误
func TestNonStreamError(t *testing.T) {
	h := newHarness(t)
	h.configure(func(cfg *structs.Config) { cfg.Provider.Stream = false })
	h.use(&fakeClient{sendErr: &llm.HTTPError{Status: 429, Message: "rate limited"}})
	c := h.controller()

	require.True(t, c.Send(context.Background(), "q", nil))
	c.Wait()
	assert.Equal(t, "rate limited", c.Snapshot().Error)
	assert.Equal(t, []string{"user:q"}, roles(h.messages()))
}

// TestMinThinking 测试等待状态的最短时长
func TestMinThinking(t *testing.T) {
	h := newHarness(t)
	h.configure(func(cfg *structs.Config) {
		cfg.Provider.Stream = false
		cfg.Chat.MinThinkingMillis = 150
	})
	h.use(&fakeClient{resp: &llm.Response{Content: "fast"}})
	c := h.controller()

	start := time.Now()
	require.True(t, c.Send(context.Background(), "q", nil))
	assert.True(t, c.Snapshot().Awaiting)
	c.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.False(t, c.Snapshot().Awaiting)
	assert.Equal(t, []string{"user:q", "assistant:fast"}, roles(h.messages()))
}

// TestMinThinkingCancel 测试最短等待可以被取消
func TestMinThinkingCancel(t *testing.T) {
	h := newHarness(t)
	h.configure(func(cfg *structs.Config) { cfg.Chat.MinThinkingMillis = 10_000 })
	h.use(&fakeClient{events: []llm.StreamEvent{llm.ContentEvent("hidden")}})
	c := h.controller()

	require.True(t, c.Send(context.Background(), "q", nil))
	assert.Eventually(t, func() bool { return c.Snapshot().State == state.StateStreaming }, eventually, tick)

	done := make(chan struct{})
	go func() {
		c.Cancel()
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(eventually):
		t.Fatal("cancel did not interrupt the minimum wait")
	}
	assert.Equal(t, []string{"user:q"}, roles(h.messages()))
}

// TestRegenerate 测试从助手或用户消息重新生成
func TestRegenerate(t *testing.T) {
	h := newHarness(t)
	client := &fakeClient{events: []llm.StreamEvent{llm.ContentEvent("again")}}
	h.use(client)
	c := h.controller()

	h.append(storageStructs.MessagesRoleSystem, "sys")
	user := h.append(storageStructs.MessagesRoleUser, "q1")
	reply := h.append(storageStructs.MessagesRoleAssistant, "a1")

	require.True(t, c.Regenerate(context.Background(), reply.ID))
	c.Wait()
	assert.Equal(t, []string{"system:sys", "user:q1", "assistant:again"}, roles(h.messages()))

	h.append(storageStructs.MessagesRoleUser, "q2")
	h.append(storageStructs.MessagesRoleAssistant, "a2")
	require.True(t, c.Regenerate(context.Background(), user.ID))
	c.Wait()
	assert.Equal(t, []string{"system:sys", "user:q1", "assistant:again"}, roles(h.messages()))

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "q1"},
	}, reqs[1].Messages)
}

// TestRegenerateNoop 测试不满足条件时不删除任何消息
func TestRegenerateNoop(t *testing.T) {
	h := newHarness(t)
	client := &fakeClient{}
	h.use(client)
	c := h.controller()

	system := h.append(storageStructs.MessagesRoleSystem, "sys")
	h.append(storageStructs.MessagesRoleUser, "q")
	h.append(storageStructs.MessagesRoleAssistant, "a1")
	second := h.append(storageStructs.MessagesRoleAssistant, "a2")
	before := roles(h.messages())

	assert.False(t, c.Regenerate(context.Background(), system.ID))
	assert.False(t, c.Regenerate(context.Background(), second.ID))
	assert.False(t, c.Regenerate(context.Background(), 9999))
	c.Wait()
	assert.Equal(t, before, roles(h.messages()))
	assert.Empty(t, client.Requests())
}

// TestContextLimit 测试请求使用上下文上限
func TestContextLimit(t *testing.T) {
	h := newHarness(t)
	h.configure(func(cfg *structs.Config) { cfg.Chat.ContextLimit = 2 })
	client := &fakeClient{events: []llm.StreamEvent{llm.ContentEvent("ok")}}
	h.use(client)
	c := h.controller()

	h.append(storageStructs.MessagesRoleSystem, "sys")
	h.append(storageStructs.MessagesRoleUser, "q1")
	h.append(storageStructs.MessagesRoleAssistant, "a1")
	require.True(t, c.Send(context.Background(), "q2", nil))
	c.Wait()

	assert.Equal(t, []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleAssistant, Content: "a1"},
		{Role: llm.RoleUser, Content: "q2"},
	}, client.Requests()[0].Messages)
}

// TestClose 测试关闭后不再接受请求
func TestClose(t *testing.T) {
	h := newHarness(t)
	h.use(&fakeClient{feed: make(chan llm.StreamEvent)})
	c := h.controller()

	require.True(t, c.Send(context.Background(), "q", nil))
	c.Close()
	assert.False(t, c.Send(context.Background(), "again", nil))
	assert.Equal(t, []string{"user:q"}, roles(h.messages()))
	c.Close()
}

// TestStopDuringMinThinking 测试最短等待期间停止仍保存已收到的内容
func TestStopDuringMinThinking(t *testing.T) {
	h := newHarness(t)
	h.configure(func(cfg *structs.Config) { cfg.Chat.MinThinkingMillis = 600 })
	feed := make(chan llm.StreamEvent)
	h.use(&fakeClient{feed: feed})
	c := h.controller()

	require.True(t, c.Send(context.Background(), "q", nil))
	feed <- llm.ContentEvent("Hi")
	assert.Eventually(t, func() bool { return c.Snapshot().Draft == "Hi" }, eventually, tick)
	assert.True(t, c.Snapshot().Awaiting)

	time.Sleep(150 * time.Millisecond)
	c.Stop()
	c.Wait()
	assert.Equal(t, []string{"user:q", "assistant:Hi"}, roles(h.messages()))
}

// TestMinThinkingStreamDraft 测试草稿立即更新，Awaiting 在最短等待后清除
func TestMinThinkingStreamDraft(t *testing.T) {
	h := newHarness(t)
	h.configure(func(cfg *structs.Config) { cfg.Chat.MinThinkingMillis = 150 })
	feed := make(chan llm.StreamEvent)
	h.use(&fakeClient{feed: feed})
	c := h.controller()

	start := time.Now()
	require.True(t, c.Send(context.Background(), "q", nil))
	feed <- llm.ContentEvent("Hel")
	assert.Eventually(t, func() bool { return c.Snapshot().Draft == "Hel" }, eventually, tick)
	assert.Eventually(t, func() bool { return !c.Snapshot().Awaiting }, eventually, tick)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, state.StateStreaming, c.Snapshot().State)

	feed <- llm.ContentEvent("lo")
	close(feed)
	c.Wait()
	assert.Equal(t, []string{"user:q", "assistant:Hello"}, roles(h.messages()))
}

// TestNotifyDropsStale 测试晚到的旧快照不会覆盖新状态
func TestNotifyDropsStale(t *testing.T) {
	h := newHarness(t)
	var seen []state.State
	c := h.controller(WithObserver(func(s Snapshot) { seen = append(seen, s.State) }))

	c.notify(notice{snap: Snapshot{State: state.StateIdle}, seq: 2})
	c.notify(notice{snap: Snapshot{State: state.StateStreaming, Draft: "late"}, seq: 1})
	c.notify(notice{snap: Snapshot{State: state.StateSending}, seq: 3})
	assert.Equal(t, []state.State{state.StateIdle, state.StateSending}, seen)
}
