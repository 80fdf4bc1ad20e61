package funcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pixia-chat/pixia/storage"
	storageStructs "github.com/pixia-chat/pixia/storage/structs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.InitDB(storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close(db) })
	return storage.NewStore(db)
}

// TestSessionLifecycle 测试创建、重命名、置顶、删除
func TestSessionLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first, err := CreateSession(ctx, store, "  ")
	require.NoError(t, err)
	assert.Equal(t, storageStructs.DefaultSessionTitle, first.Title)
	second, err := CreateSession(ctx, store, "Notes")
	require.NoError(t, err)

	require.NoError(t, RenameSession(ctx, store, first, " Trip plan "))
	assert.Equal(t, "Trip plan", first.Title)
	assert.Error(t, RenameSession(ctx, store, first, ""))

	pinned, err := TogglePin(ctx, store, second)
	require.NoError(t, err)
	assert.True(t, pinned)

	sessions, err := GetSessions(ctx, store)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)

	require.NoError(t, DeleteSession(ctx, store, second))
	sessions, err = GetSessions(ctx, store)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Trip plan", sessions[0].Title)
}

// TestFindSession 测试按序号与 UUID 前缀查找
func TestFindSession(t *testing.T) {
	sessions := []storageStructs.Sessions{
		{ID: 1, UUID: "aaaa1111-0000-0000-0000-000000000000"},
		{ID: 2, UUID: "aaaa2222-0000-0000-0000-000000000000"},
		{ID: 3, UUID: "bbbb3333-0000-0000-0000-000000000000"},
	}

	found, err := FindSession(sessions, "2")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), found.ID)

	found, err = FindSession(sessions, "bbbb")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), found.ID)

	_, err = FindSession(sessions, "aaaa")
	assert.Error(t, err, "ambiguous prefix")

	_, err = FindSession(sessions, "4")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	_, err = FindSession(sessions, "cccc")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

// TestGetHistory 测试读取历史
func TestGetHistory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session, err := CreateSession(ctx, store, "")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, session.ID, storage.NewMessage{Role: storageStructs.MessagesRoleUser, Content: "hi"})
	require.NoError(t, err)

	history, err := GetHistory(ctx, store, session)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)
}

// TestLoadImage 测试图片读取与类型识别
func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "pixel.png")
	data := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(png, data, 0644))

	img, err := LoadImage(png)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, data, img.Data)

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("plain text"), 0644))
	_, err = LoadImage(text)
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = LoadImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

// TestShortID 测试短 ID
func TestShortID(t *testing.T) {
	assert.Equal(t, "aaaa1111", ShortID(&storageStructs.Sessions{UUID: "aaaa1111-0000"}))
	assert.Equal(t, "abc", ShortID(&storageStructs.Sessions{UUID: "abc"}))
}
