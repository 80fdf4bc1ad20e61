// Package chat 单个会话的回合状态机
package chat

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/log"
	"github.com/pixia-chat/pixia/metrics"
	"github.com/pixia-chat/pixia/provider/factory"
	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/pixia-chat/pixia/secret"
	"github.com/pixia-chat/pixia/storage"
	storageStructs "github.com/pixia-chat/pixia/storage/structs"
	"github.com/pixia-chat/pixia/ui/state"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var logger *log.LogsObj

func init() {
	logger = log.New("chat")
}

// Store 控制器依赖的消息存储
type Store interface {
	AppendMessage(ctx context.Context, sessionID uint32, msg storage.NewMessage) (*storageStructs.Messages, error)
	MessagesInOrder(ctx context.Context, sessionID uint32) ([]storageStructs.Messages, error)
	RenameSession(ctx context.Context, sessionID uint32, title string) error
	DeleteMessages(ctx context.Context, ids []uint64) error
	IsSessionValid(ctx context.Context, sessionID uint32) bool
	GetSession(ctx context.Context, sessionID uint32) (*storageStructs.Sessions, error)
}

var _ Store = (*storage.Store)(nil)

// Snapshot 对外可见的回合状态
type Snapshot struct {
	State          state.State
	Draft          string
	ReasoningDraft string
	Awaiting       bool // 等待首个响应，至少持续 MinThinkingMillis
	Streaming      bool
	Error          string
	Usage          *llm.UsageStats // 最近一次的用量
}

// turn 一个进行中的回合
type turn struct {
	token   uint64
	ctx     context.Context
	cancel  context.CancelFunc
	start   time.Time
	minWait time.Duration
	stream  bool
	client  llm.Client
	cfg     structs.Config

	awaitTimer *time.Timer // 首个事件早于最短等待时，到期清除 Awaiting
}

// notice 带序号的快照，序号在 mu 内分配
type notice struct {
	snap Snapshot
	seq  uint64
}

// Controller 会话控制器，同一时间只有一个回合
type Controller struct {
	sessionID uint32
	titleKey  string
	store     Store
	settings  func() structs.Config
	secrets   secret.Store
	newClient factory.Func
	log       log.Interface
	metrics   *metrics.Metrics
	observer  func(Snapshot)

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	token     uint64
	active    *turn
	snap      Snapshot
	draft     strings.Builder
	reasoning strings.Builder
	limiter   *rate.Limiter
	closed    bool
	seq       uint64

	notifyMu sync.Mutex
	notified uint64
	jobs     sync.WaitGroup

	titleGroup singleflight.Group // 同一会话的标题任务只运行一个
}

// New 创建控制器
func New(sessionID uint32, store Store, settings func() structs.Config, secrets secret.Store, opts ...Option) *Controller {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	c := &Controller{
		sessionID:  sessionID,
		titleKey:   strconv.FormatUint(uint64(sessionID), 10),
		store:      store,
		settings:   settings,
		secrets:    secrets,
		newClient:  factory.FromConfig,
		log:        logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		limiter:    newLimiter(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newLimiter 草稿通知限速，perSecond 为 0 时不限制
func newLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Snapshot 当前状态
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Send 保存用户消息并开始新回合，文本与图片都为空、会话无效或配置错误时返回 false
func (c *Controller) Send(ctx context.Context, text string, image *llm.ImageAttachment) bool {
	text = strings.TrimSpace(text)
	hasImage := image != nil && len(image.Data) > 0
	if text == "" && !hasImage {
		return false
	}
	if c.isClosed() || !c.store.IsSessionValid(ctx, c.sessionID) {
		return false
	}
	cfg := c.settings()
	client, err := c.client(cfg)
	if err != nil {
		c.setError(err)
		return false
	}

	// 取代进行中的回合
	c.Cancel()

	history, err := c.store.MessagesInOrder(ctx, c.sessionID)
	if err != nil {
		c.log.Error("load messages of session %d failed: %v", c.sessionID, err)
		return false
	}
	if len(history) == 0 && strings.TrimSpace(cfg.Chat.SystemPrompt) != "" {
		if _, err := c.store.AppendMessage(ctx, c.sessionID, storage.NewMessage{
			Role:    storageStructs.MessagesRoleSystem,
			Content: cfg.Chat.SystemPrompt,
		}); err != nil {
			c.log.Warn("save system prompt failed: %v", err)
		}
	}

	msg := storage.NewMessage{Role: storageStructs.MessagesRoleUser, Content: text}
	if hasImage {
		msg.ImageData = image.Data
		msg.ImageMIME = image.MIMEType
	}
	if _, err := c.store.AppendMessage(ctx, c.sessionID, msg); err != nil {
		c.log.Error("save user message failed: %v", err)
		return false
	}
	return c.dispatch(ctx, client, cfg)
}

// Regenerate 删除目标消息之后（助手消息则包括其本身）的历史并重新请求
func (c *Controller) Regenerate(ctx context.Context, messageID uint64) bool {
	if c.isClosed() || !c.store.IsSessionValid(ctx, c.sessionID) {
		return false
	}
	history, err := c.store.MessagesInOrder(ctx, c.sessionID)
	if err != nil {
		c.log.Error("load messages of session %d failed: %v", c.sessionID, err)
		return false
	}
	if _, ok := regeneratePoint(history, messageID); !ok {
		return false
	}
	cfg := c.settings()
	client, err := c.client(cfg)
	if err != nil {
		c.setError(err)
		return false
	}

	c.Cancel()

	// 取消前的回合可能已写入消息，重新读取
	history, err = c.store.MessagesInOrder(ctx, c.sessionID)
	if err != nil {
		c.log.Error("load messages of session %d failed: %v", c.sessionID, err)
		return false
	}
	cut, ok := regeneratePoint(history, messageID)
	if !ok {
		return false
	}
	ids := make([]uint64, 0, len(history)-cut)
	for _, msg := range history[cut:] {
		ids = append(ids, msg.ID)
	}
	if err := c.store.DeleteMessages(ctx, ids); err != nil {
		c.log.Error("delete messages failed: %v", err)
		return false
	}
	c.log.Info("regenerate session %d from message %d, dropped %d", c.sessionID, messageID, len(ids))
	return c.dispatch(ctx, client, cfg)
}

// regeneratePoint 返回截断位置，剩余历史必须以用户消息结尾
func regeneratePoint(history []storageStructs.Messages, messageID uint64) (int, bool) {
	idx := slices.IndexFunc(history, func(m storageStructs.Messages) bool { return m.ID == messageID })
	if idx < 0 {
		return 0, false
	}
	var cut int
	switch history[idx].Role {
	case storageStructs.MessagesRoleAssistant:
		cut = idx
	case storageStructs.MessagesRoleUser:
		cut = idx + 1
	default:
		return 0, false
	}
	if cut == 0 || history[cut-1].Role != storageStructs.MessagesRoleUser {
		return 0, false
	}
	return cut, true
}

// Stop 结束回合并保存已收到的草稿
func (c *Controller) Stop() {
	c.mu.Lock()
	t := c.active
	if t == nil {
		c.mu.Unlock()
		return
	}
	c.token++
	persisted := c.persistLocked(c.draft.String(), c.reasoning.String())
	c.endTurnLocked(t)
	n := c.noticeLocked()
	c.mu.Unlock()

	c.notify(n)
	c.metrics.Turn(t.stream, metrics.OutcomeStopped)
	if persisted {
		c.scheduleTitle(t.client, t.cfg)
	}
}

// Cancel 结束回合并丢弃草稿
func (c *Controller) Cancel() {
	c.mu.Lock()
	t := c.active
	if t == nil {
		c.mu.Unlock()
		return
	}
	c.token++
	c.endTurnLocked(t)
	cancelled := c.noticeLocked()
	cancelled.snap.State = state.StateCancelled
	idle := c.noticeLocked()
	c.mu.Unlock()

	c.notify(cancelled)
	c.notify(idle)
	c.metrics.Turn(t.stream, metrics.OutcomeCanceled)
}

// Wait 等待进行中的回合与标题任务
func (c *Controller) Wait() {
	c.jobs.Wait()
}

// Close 取消所有任务并等待退出
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if t := c.active; t != nil {
		c.token++
		c.endTurnLocked(t)
	}
	c.mu.Unlock()
	c.baseCancel()
	c.Wait()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) client(cfg structs.Config) (llm.Client, error) {
	var key string
	if c.secrets != nil {
		key, _ = c.secrets.Get(secret.APIKeyName)
	}
	return c.newClient(cfg.Provider, key)
}

func (c *Controller) setError(err error) {
	c.log.Warn("session %d: %v", c.sessionID, err)
	c.mu.Lock()
	c.snap.Error = err.Error()
	n := c.noticeLocked()
	c.mu.Unlock()
	c.notify(n)
}

// dispatch 读取历史并启动回合
func (c *Controller) dispatch(ctx context.Context, client llm.Client, cfg structs.Config) bool {
	history, err := c.store.MessagesInOrder(ctx, c.sessionID)
	if err != nil {
		c.log.Error("load messages of session %d failed: %v", c.sessionID, err)
		return false
	}
	req := buildRequest(cfg, history)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if prev := c.active; prev != nil {
		c.endTurnLocked(prev)
	}
	c.token++
	turnCtx, cancel := context.WithCancel(c.baseCtx)
	t := &turn{
		token:   c.token,
		ctx:     turnCtx,
		cancel:  cancel,
		start:   time.Now(),
		minWait: time.Duration(cfg.Chat.MinThinkingMillis) * time.Millisecond,
		stream:  cfg.Provider.Stream,
		client:  client,
		cfg:     cfg,
	}
	c.active = t
	c.limiter = newLimiter(cfg.Chat.DraftUpdatesPerSecond)
	c.snap = Snapshot{State: state.StateSending, Awaiting: true, Streaming: t.stream, Usage: c.snap.Usage}
	n := c.noticeLocked()
	c.jobs.Add(1)
	c.mu.Unlock()

	c.notify(n)
	c.log.Info("session %d turn %d started, stream=%v, %d messages", c.sessionID, t.token, t.stream, len(req.Messages))
	go func() {
		defer c.jobs.Done()
		if t.stream {
			c.runStream(t, req)
		} else {
			c.runSend(t, req)
		}
	}()
	return true
}

func (c *Controller) runStream(t *turn, req llm.Request) {
	if !c.update(t, func(s *Snapshot) { s.State = state.StateStreaming }) {
		return
	}
	started := time.Now()
	for ev, err := range t.client.Stream(t.ctx, req) {
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			c.fail(t, err)
			return
		}
		if !c.apply(t, ev) {
			return
		}
	}
	c.metrics.ObserveRequest(true, time.Since(started))
	if !c.awaitMinimum(t) {
		return
	}

	c.mu.Lock()
	if !c.currentLocked(t) {
		c.mu.Unlock()
		return
	}
	persisted := c.persistLocked(c.draft.String(), c.reasoning.String())
	c.endTurnLocked(t)
	n := c.noticeLocked()
	c.mu.Unlock()
	c.complete(t, n, persisted)
}

func (c *Controller) runSend(t *turn, req llm.Request) {
	if !c.update(t, func(s *Snapshot) { s.State = state.StateAwaitingResponse }) {
		return
	}
	started := time.Now()
	resp, err := t.client.Send(t.ctx, req)
	c.metrics.ObserveRequest(false, time.Since(started))
	if err != nil {
		if t.ctx.Err() != nil {
			return
		}
		c.fail(t, err)
		return
	}
	if !c.awaitMinimum(t) {
		return
	}

	c.mu.Lock()
	if !c.currentLocked(t) {
		c.mu.Unlock()
		return
	}
	persisted := false
	if resp.Content != "" {
		persisted = c.persistLocked(resp.Content, resp.Reasoning)
	}
	c.endTurnLocked(t)
	if resp.Usage != nil {
		c.snap.Usage = resp.Usage
	}
	n := c.noticeLocked()
	c.mu.Unlock()
	c.complete(t, n, persisted)
}

func (c *Controller) complete(t *turn, n notice, persisted bool) {
	c.notify(n)
	if !persisted {
		c.metrics.Turn(t.stream, metrics.OutcomeEmpty)
		return
	}
	c.metrics.Turn(t.stream, metrics.OutcomeCompleted)
	c.scheduleTitle(t.client, t.cfg)
}

// awaitMinimum 保持等待状态至最短时长，回合被取代时返回 false
func (c *Controller) awaitMinimum(t *turn) bool {
	if remaining := t.minWait - time.Since(t.start); remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-t.ctx.Done():
			return false
		}
	}
	return c.update(t, func(s *Snapshot) { s.Awaiting = false })
}

// clearAwaitingLocked 收到事件后清除 Awaiting，未满最短等待时交给回合计时器
func (c *Controller) clearAwaitingLocked(t *turn) {
	if !c.snap.Awaiting {
		return
	}
	remaining := t.minWait - time.Since(t.start)
	if remaining <= 0 {
		c.snap.Awaiting = false
		return
	}
	if t.awaitTimer == nil {
		t.awaitTimer = time.AfterFunc(remaining, func() {
			c.update(t, func(s *Snapshot) { s.Awaiting = false })
		})
	}
}

// apply 将流事件立即写入草稿
func (c *Controller) apply(t *turn, ev llm.StreamEvent) bool {
	c.mu.Lock()
	if !c.currentLocked(t) {
		c.mu.Unlock()
		return false
	}
	switch ev.Kind {
	case llm.EventContent:
		c.draft.WriteString(ev.Text)
		c.snap.Draft = c.draft.String()
	case llm.EventReasoning:
		c.reasoning.WriteString(ev.Text)
		c.snap.ReasoningDraft = c.reasoning.String()
	case llm.EventUsage:
		if ev.Usage != nil {
			usage := *ev.Usage
			c.snap.Usage = &usage
		}
	}
	awaiting := c.snap.Awaiting
	c.clearAwaitingLocked(t)
	allow := ev.Kind == llm.EventUsage || awaiting != c.snap.Awaiting || c.limiter.Allow()
	n := c.noticeLocked()
	c.mu.Unlock()

	c.metrics.StreamEvent(ev.Kind)
	if allow {
		c.notify(n)
	}
	return true
}

func (c *Controller) fail(t *turn, err error) {
	c.mu.Lock()
	if !c.currentLocked(t) {
		c.mu.Unlock()
		return
	}
	c.endTurnLocked(t)
	c.snap.Error = err.Error()
	n := c.noticeLocked()
	c.mu.Unlock()

	c.log.Warn("session %d turn %d failed: %v", c.sessionID, t.token, err)
	c.notify(n)
	c.metrics.Turn(t.stream, metrics.OutcomeFailed)
}

// update 回合仍为当前回合时修改状态
func (c *Controller) update(t *turn, fn func(s *Snapshot)) bool {
	c.mu.Lock()
	if !c.currentLocked(t) {
		c.mu.Unlock()
		return false
	}
	fn(&c.snap)
	n := c.noticeLocked()
	c.mu.Unlock()
	c.notify(n)
	return true
}

func (c *Controller) currentLocked(t *turn) bool {
	return c.active == t && c.token == t.token
}

// endTurnLocked 取消回合并清空草稿，保留用量
func (c *Controller) endTurnLocked(t *turn) {
	t.cancel()
	if t.awaitTimer != nil {
		t.awaitTimer.Stop()
	}
	if c.active == t {
		c.active = nil
	}
	c.draft.Reset()
	c.reasoning.Reset()
	c.snap = Snapshot{State: state.StateIdle, Usage: c.snap.Usage}
}

// persistLocked 保存助手消息，持有锁以保证不与新回合交错
func (c *Controller) persistLocked(content string, reasoning string) bool {
	if content == "" && reasoning == "" {
		return false
	}
	ctx := context.Background()
	if !c.store.IsSessionValid(ctx, c.sessionID) {
		c.log.Info("session %d is gone, drop reply", c.sessionID)
		return false
	}
	if _, err := c.store.AppendMessage(ctx, c.sessionID, storage.NewMessage{
		Role:      storageStructs.MessagesRoleAssistant,
		Content:   content,
		Reasoning: reasoning,
	}); err != nil {
		c.log.Error("save assistant message failed: %v", err)
		return false
	}
	return true
}

// noticeLocked 为当前快照分配序号
func (c *Controller) noticeLocked() notice {
	c.seq++
	return notice{snap: c.snap, seq: c.seq}
}

// notify 按序号通知观察者，丢弃已被更新快照取代的旧快照
func (c *Controller) notify(n notice) {
	if c.observer == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if n.seq <= c.notified {
		return
	}
	c.notified = n.seq
	c.observer(n.snap)
}
