// Package state 回合状态
package state

// State 会话状态
type State int32

// 状态 Enum
const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateAwaitingResponse
	StateCancelled
)

var names = [...]string{"idle", "sending", "streaming", "awaiting", "cancelled"}

func (s State) String() string {
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Active 是否有进行中的回合
func (s State) Active() bool {
	return s == StateSending || s == StateStreaming || s == StateAwaitingResponse
}
