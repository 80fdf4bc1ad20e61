// Package secret 密钥读取
package secret

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/pixia-chat/pixia/internal/configutil"
	"github.com/pixia-chat/pixia/log"
)

// APIKeyName API Key 的密钥名
const APIKeyName = "openai_api_key"

var logger *log.LogsObj

func init() {
	logger = log.New("secret")
}

// Store 密钥存储
type Store interface {
	Get(key string) (string, bool)
}

// EnvStore 依次从环境变量、.env 文件、密钥目录读取
type EnvStore struct {
	dotenv map[string]string
	dir    string
}

// NewEnvStore 创建 EnvStore，envFile 不存在时忽略
func NewEnvStore(envFile string, dir string) (*EnvStore, error) {
	s := &EnvStore{dotenv: map[string]string{}}
	if envFile != "" {
		path := configutil.ExpandPath(envFile)
		values, err := godotenv.Read(path)
		switch {
		case err == nil:
			s.dotenv = values
			logger.Debug("loaded %d entries from %s", len(values), path)
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
		}
	}
	if dir != "" {
		s.dir = configutil.ExpandPath(dir)
	}
	return s, nil
}

// Get 读取密钥，同时尝试原名与大写形式
func (s *EnvStore) Get(key string) (string, bool) {
	names := []string{key}
	if upper := strings.ToUpper(key); upper != key {
		names = append(names, upper)
	}
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, true
		}
	}
	for _, name := range names {
		if v := strings.TrimSpace(s.dotenv[name]); v != "" {
			return v, true
		}
	}
	if s.dir != "" {
		for _, name := range names {
			data, err := os.ReadFile(filepath.Join(s.dir, name))
			if err != nil {
				continue
			}
			if v := strings.TrimSpace(string(data)); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// MemoryStore 内存密钥存储
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(values map[string]string) *MemoryStore {
	m := &MemoryStore{values: map[string]string{}}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// Get 读取密钥
func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Set 写入密钥
func (m *MemoryStore) Set(key string, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}
