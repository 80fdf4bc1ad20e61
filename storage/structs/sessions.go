package structs

import "time"

// DefaultSessionTitle 新会话的标题
const DefaultSessionTitle = "New Chat"

// Sessions 会话列表
type Sessions struct {
	ID        uint32 `gorm:"primaryKey;autoIncrement"`
	UUID      string `gorm:"uniqueIndex;size:36"`
	Title     string
	IsPinned  bool `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}
