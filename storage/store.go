package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pixia-chat/pixia/storage/structs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreviewLength 预览标题的字符数
const PreviewLength = 32

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("session not found")

// NewMessage 待写入的消息
type NewMessage struct {
	Role      structs.MessagesRole
	Content   string
	Reasoning string
	ImageData []byte
	ImageMIME string
}

// PreviewTitle 取去除首尾空白后文本的前 32 个字符
func PreviewTitle(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > PreviewLength {
		runes = runes[:PreviewLength]
	}
	return string(runes)
}

// Store 会话存储
type Store struct {
	db *gorm.DB
}

// NewStore 创建存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 底层连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// CreateSession 创建会话，title 为空时使用 New Chat
func (s *Store) CreateSession(ctx context.Context, title string) (*structs.Sessions, error) {
	if strings.TrimSpace(title) == "" {
		title = structs.DefaultSessionTitle
	}
	session := &structs.Sessions{UUID: uuid.NewString(), Title: title}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	logger.Info("session %d created", session.ID)
	return session, nil
}

// GetSession 读取会话
func (s *Store) GetSession(ctx context.Context, sessionID uint32) (*structs.Sessions, error) {
	var session structs.Sessions
	err := s.db.WithContext(ctx).First(&session, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// IsSessionValid 会话是否仍存在
func (s *Store) IsSessionValid(ctx context.Context, sessionID uint32) bool {
	var count int64
	if err := s.db.WithContext(ctx).Model(&structs.Sessions{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		logger.Warn("check session %d failed: %v", sessionID, err)
		return false
	}
	return count > 0
}

// ListSessions 置顶优先，其次按最近更新
func (s *Store) ListSessions(ctx context.Context) ([]structs.Sessions, error) {
	sessions := []structs.Sessions{}
	err := s.db.WithContext(ctx).Order("is_pinned DESC").Order("updated_at DESC").Order("id DESC").Find(&sessions).Error
	return sessions, err
}

// RenameSession 重命名会话
func (s *Store) RenameSession(ctx context.Context, sessionID uint32, title string) error {
	return s.updateSession(ctx, sessionID, map[string]any{"title": title, "updated_at": time.Now()})
}

// TogglePinned 切换置顶状态，返回新状态
func (s *Store) TogglePinned(ctx context.Context, sessionID uint32) (bool, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	pinned := !session.IsPinned
	if err := s.updateSession(ctx, sessionID, map[string]any{"is_pinned": pinned}); err != nil {
		return false, err
	}
	return pinned, nil
}

func (s *Store) updateSession(ctx context.Context, sessionID uint32, values map[string]any) error {
	res := s.db.WithContext(ctx).Model(&structs.Sessions{}).Where("id = ?", sessionID).UpdateColumns(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession 删除会话及其消息
func (s *Store) DeleteSession(ctx context.Context, sessionID uint32) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&structs.Messages{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&structs.Sessions{}, sessionID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

// AppendMessage 追加消息并更新会话时间，标题仍为默认值时以首条用户消息命名
func (s *Store) AppendMessage(ctx context.Context, sessionID uint32, msg NewMessage) (*structs.Messages, error) {
	message := &structs.Messages{
		SessionID: sessionID,
		Role:      msg.Role,
		Content:   msg.Content,
		Reasoning: msg.Reasoning,
		ImageData: msg.ImageData,
		ImageMIME: msg.ImageMIME,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session structs.Sessions
		if err := tx.First(&session, sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if err := tx.Omit(clause.Associations).Create(message).Error; err != nil {
			return err
		}
		values := map[string]any{"updated_at": time.Now()}
		if session.Title == structs.DefaultSessionTitle && msg.Role == structs.MessagesRoleUser {
			if preview := PreviewTitle(msg.Content); preview != "" {
				values["title"] = preview
			}
		}
		return tx.Model(&structs.Sessions{}).Where("id = ?", sessionID).UpdateColumns(values).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return message, nil
}

// MessagesInOrder 按创建时间与 ID 排序的消息
func (s *Store) MessagesInOrder(ctx context.Context, sessionID uint32) ([]structs.Messages, error) {
	messages := []structs.Messages{}
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Order("id ASC").Find(&messages).Error
	return messages, err
}

// DeleteMessages 删除消息
func (s *Store) DeleteMessages(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&structs.Messages{}, ids).Error
}
