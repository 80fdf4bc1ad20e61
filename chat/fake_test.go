package chat

import (
	"context"
	"iter"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pixia-chat/pixia/config"
	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/pixia-chat/pixia/secret"
	"github.com/pixia-chat/pixia/storage"
	storageStructs "github.com/pixia-chat/pixia/storage/structs"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// fakeClient 可控的模型客户端
type fakeClient struct {
	mu       sync.Mutex
	requests []llm.Request

	events    []llm.StreamEvent
	streamErr error
	feed      chan llm.StreamEvent // 非空时按通道逐个输出

	resp    *llm.Response
	sendErr error

	titleReply string
	titleGate  chan struct{} // 非空时标题请求等待放行
	titleDone  chan struct{}
}

func isTitleRequest(req llm.Request) bool {
	return req.MaxTokens != nil && *req.MaxTokens == TitleMaxTokens && req.Temperature == TitleTemperature
}

func (f *fakeClient) record(req llm.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeClient) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

func (f *fakeClient) Send(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.record(req)
	if isTitleRequest(req) {
		if f.titleDone != nil {
			defer close(f.titleDone)
		}
		if f.titleGate != nil {
			select {
			case <-f.titleGate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &llm.Response{Content: f.titleReply}, nil
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.resp == nil {
		return &llm.Response{}, nil
	}
	return f.resp, nil
}

func (f *fakeClient) Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.StreamEvent, error] {
	f.record(req)
	return func(yield func(llm.StreamEvent, error) bool) {
		if f.feed != nil {
			for {
				select {
				case <-ctx.Done():
					yield(llm.StreamEvent{}, ctx.Err())
					return
				case ev, ok := <-f.feed:
					if !ok {
						return
					}
					if !yield(ev, nil) {
						return
					}
				}
			}
		}
		for _, ev := range f.events {
			if !yield(ev, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(llm.StreamEvent{}, f.streamErr)
		}
	}
}

// harness 测试环境
type harness struct {
	t       *testing.T
	store   *storage.Store
	session *storageStructs.Sessions

	mu      sync.Mutex
	cfg     structs.Config
	clients []*fakeClient
	built   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormLogger.Discard})
	require.NoError(t, err)
	require.NoError(t, storage.Prepare(db))
	t.Cleanup(func() { storage.Close(db) })

	store := storage.NewStore(db)
	session, err := store.CreateSession(context.Background(), "")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Chat.MinThinkingMillis = 0
	cfg.Chat.AutoTitle = false
	cfg.Chat.DraftUpdatesPerSecond = 0
	return &harness{t: t, store: store, session: session, cfg: cfg}
}

func (h *harness) settings() structs.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

func (h *harness) configure(fn func(cfg *structs.Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.cfg)
}

// use 之后每次创建客户端依次返回给定的客户端，用完后重复最后一个
func (h *harness) use(clients ...*fakeClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients = clients
	h.built = 0
}

func (h *harness) factory(provider structs.ProviderConfig, apiKey string) (llm.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return &fakeClient{}, nil
	}
	idx := min(h.built, len(h.clients)-1)
	h.built++
	return h.clients[idx], nil
}

func (h *harness) controller(opts ...Option) *Controller {
	secrets := secret.NewMemoryStore(map[string]string{secret.APIKeyName: "sk-test"})
	opts = append([]Option{WithClientFactory(h.factory)}, opts...)
	c := New(h.session.ID, h.store, h.settings, secrets, opts...)
	h.t.Cleanup(c.Close)
	return c
}

func (h *harness) messages() []storageStructs.Messages {
	h.t.Helper()
	messages, err := h.store.MessagesInOrder(context.Background(), h.session.ID)
	require.NoError(h.t, err)
	return messages
}

func (h *harness) title() string {
	h.t.Helper()
	session, err := h.store.GetSession(context.Background(), h.session.ID)
	require.NoError(h.t, err)
	return session.Title
}

func (h *harness) append(role storageStructs.MessagesRole, content string) *storageStructs.Messages {
	h.t.Helper()
	msg, err := h.store.AppendMessage(context.Background(), h.session.ID, storage.NewMessage{Role: role, Content: content})
	require.NoError(h.t, err)
	return msg
}

func ptr(v int) *int {
	return &v
}

func roles(messages []storageStructs.Messages) []string {
	out := make([]string, len(messages))
	for i, msg := range messages {
		out[i] = msg.Role.String() + ":" + msg.Content
	}
	return out
}
