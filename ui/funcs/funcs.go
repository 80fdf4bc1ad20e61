// Package funcs 界面层调用的会话操作
package funcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/pixia-chat/pixia/chat"
	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/internal/configutil"
	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/pixia-chat/pixia/secret"
	"github.com/pixia-chat/pixia/storage"
	storageStructs "github.com/pixia-chat/pixia/storage/structs"
)

// MaxImageSize 附加图片的大小上限
const MaxImageSize = 20 << 20

// ErrNotImage 文件不是图片
var ErrNotImage = errors.New("file is not an image")

// GetSessions 获取所有会话，置顶在前
func GetSessions(ctx context.Context, store *storage.Store) ([]storageStructs.Sessions, error) {
	return store.ListSessions(ctx)
}

// CreateSession 创建会话，title 为空时使用默认标题
func CreateSession(ctx context.Context, store *storage.Store, title string) (*storageStructs.Sessions, error) {
	return store.CreateSession(ctx, strings.TrimSpace(title))
}

// DeleteSession 删除会话及其消息
func DeleteSession(ctx context.Context, store *storage.Store, session *storageStructs.Sessions) error {
	return store.DeleteSession(ctx, session.ID)
}

// RenameSession 重命名会话
func RenameSession(ctx context.Context, store *storage.Store, session *storageStructs.Sessions, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title is empty")
	}
	if err := store.RenameSession(ctx, session.ID, title); err != nil {
		return err
	}
	session.Title = title
	return nil
}

// TogglePin 切换置顶，返回新的状态
func TogglePin(ctx context.Context, store *storage.Store, session *storageStructs.Sessions) (bool, error) {
	pinned, err := store.TogglePinned(ctx, session.ID)
	if err != nil {
		return false, err
	}
	session.IsPinned = pinned
	return pinned, nil
}

// GetHistory 获取历史消息
func GetHistory(ctx context.Context, store *storage.Store, session *storageStructs.Sessions) ([]storageStructs.Messages, error) {
	return store.MessagesInOrder(ctx, session.ID)
}

// FindSession 按列表序号（从 1 开始）或 UUID 前缀查找会话
func FindSession(sessions []storageStructs.Sessions, ref string) (*storageStructs.Sessions, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, storage.ErrSessionNotFound
	}
	if idx, err := strconv.Atoi(ref); err == nil {
		if idx < 1 || idx > len(sessions) {
			return nil, fmt.Errorf("session number %d out of range 1-%d: %w", idx, len(sessions), storage.ErrSessionNotFound)
		}
		return &sessions[idx-1], nil
	}
	var found *storageStructs.Sessions
	for i := range sessions {
		if !strings.HasPrefix(sessions[i].UUID, ref) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("session prefix %q is ambiguous", ref)
		}
		found = &sessions[i]
	}
	if found == nil {
		return nil, fmt.Errorf("session %q: %w", ref, storage.ErrSessionNotFound)
	}
	return found, nil
}

// OpenChat 为会话创建控制器
func OpenChat(store *storage.Store, session *storageStructs.Sessions, settings func() structs.Config, secrets secret.Store, opts ...chat.Option) *chat.Controller {
	return chat.New(session.ID, store, settings, secrets, opts...)
}

// LoadImage 读取图片文件，按内容识别 MIME 类型
func LoadImage(path string) (*llm.ImageAttachment, error) {
	path = configutil.ExpandPath(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxImageSize {
		return nil, fmt.Errorf("image %s is too large (%d bytes)", path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%s (%s): %w", path, mime, ErrNotImage)
	}
	return &llm.ImageAttachment{Data: data, MIMEType: mime}, nil
}

// ShortID UUID 的前 8 位
func ShortID(session *storageStructs.Sessions) string {
	if len(session.UUID) <= 8 {
		return session.UUID
	}
	return session.UUID[:8]
}
