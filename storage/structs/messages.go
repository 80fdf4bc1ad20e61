package structs

import (
	"fmt"
	"time"
)

// MessagesRole 消息角色
type MessagesRole uint8

// 消息角色
const (
	MessagesRoleUser MessagesRole = iota
	MessagesRoleAssistant
	MessagesRoleSystem
)

var roleNames = map[MessagesRole]string{
	MessagesRoleUser:      "user",
	MessagesRoleAssistant: "assistant",
	MessagesRoleSystem:    "system",
}

func (r MessagesRole) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseMessagesRole 解析角色名称
func ParseMessagesRole(name string) (MessagesRole, error) {
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown message role %q", name)
}

// Messages 消息列表
type Messages struct {
	ID        uint64   `gorm:"primaryKey;autoIncrement"`
	SessionID uint32   `gorm:"index"`
	Sessions  Sessions `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE" json:"-"`
	Role      MessagesRole
	Content   string `gorm:"type:text"`
	Reasoning string `gorm:"type:text"`
	// 图片以原始字节保存，发送时再编码
	ImageData []byte
	ImageMIME string
	CreatedAt time.Time `gorm:"index"`
}

// HasImage 是否附带图片
func (m *Messages) HasImage() bool {
	return len(m.ImageData) > 0
}
