package llm

// EventKind 流式事件类型
type EventKind uint8

// 事件类型
const (
	EventContent EventKind = iota + 1
	EventReasoning
	EventUsage
)

func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventReasoning:
		return "reasoning"
	case EventUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// StreamEvent 流式事件，Kind 决定 Text 与 Usage 哪个有效
type StreamEvent struct {
	Kind  EventKind
	Text  string
	Usage *UsageStats
}

// ContentEvent 内容增量
func ContentEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventContent, Text: text}
}

// ReasoningEvent 思考增量
func ReasoningEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventReasoning, Text: text}
}

// UsageEvent 用量
func UsageEvent(usage UsageStats) StreamEvent {
	return StreamEvent{Kind: EventUsage, Usage: &usage}
}

// UsageStats token 用量
type UsageStats struct {
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

// Total 总用量，优先 TotalTokens，否则为两者之和
func (u UsageStats) Total() (int, bool) {
	if u.TotalTokens != nil {
		return *u.TotalTokens, true
	}
	if u.PromptTokens != nil && u.CompletionTokens != nil {
		return *u.PromptTokens + *u.CompletionTokens, true
	}
	return 0, false
}

// Empty 三项均缺失
func (u UsageStats) Empty() bool {
	return u.PromptTokens == nil && u.CompletionTokens == nil && u.TotalTokens == nil
}

// Response 非流式响应
type Response struct {
	Content   string
	Reasoning string // 为空代表没有思考内容
	Usage     *UsageStats
}
