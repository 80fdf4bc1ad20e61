// Package config 设置的加载、保存、校验与监听
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/internal/configutil"
	"github.com/pixia-chat/pixia/log"
	"github.com/pixia-chat/pixia/product"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = configutil.DefaultDir + "/config.json"
const envConfigName = "PIXIA_CONFIG_PATH"

var logger *log.LogsObj

var validate = validator.New()

func init() {
	logger = log.New("config")
}

// Default 默认配置
func Default() structs.Config {
	cfg := structs.BuildDefault(structs.Config{})
	cfg.Version = product.VersionID
	return cfg
}

// Validate 校验配置
func Validate(cfg structs.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Manager 配置管理器
type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  structs.Config
}

// NewManager 创建配置管理器，path 为空时读取环境变量或默认路径
func NewManager(path string) *Manager {
	if path == "" {
		path = configutil.PathFromEnv(envConfigName, defaultConfigPath)
	} else {
		path = configutil.ExpandPath(path)
	}
	return &Manager{path: path, cfg: Default()}
}

// Path 配置文件路径
func (m *Manager) Path() string {
	return m.path
}

// Get 获取配置快照
func (m *Manager) Get() structs.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Load 加载配置文件
func (m *Manager) Load() error {
	cfg, err := m.read()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// read 读取并解析配置文件，文件缺失或损坏时写入默认配置
func (m *Manager) read() (structs.Config, error) {
	cfg := Default()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			// 创建默认配置
			return cfg, m.write(cfg)
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", m.path, err)
	}

	if err := decode(m.path, data, &cfg); err != nil {
		// 备份损坏的配置
		logger.Warn("config %s is corrupt, backing up: %v", m.path, err)
		if renameErr := os.Rename(m.path, m.path+".bak"); renameErr != nil {
			logger.Error("failed to back up config: %v", renameErr)
		}
		cfg = Default()
		return cfg, m.write(cfg)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save 保存配置文件
func (m *Manager) Save() error {
	return m.write(m.Get())
}

// Update 修改配置，校验通过后保存
func (m *Manager) Update(fn func(cfg *structs.Config)) error {
	m.mu.Lock()
	next := m.cfg
	fn(&next)
	if err := Validate(next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.cfg = next
	m.mu.Unlock()
	return m.write(next)
}

func (m *Manager) write(cfg structs.Config) error {
	if err := configutil.EnsureParent(m.path); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := encode(m.path, cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Watch 监听配置文件变化并重新加载，直到 ctx 结束
func (m *Manager) Watch(ctx context.Context, onChange func(structs.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// 监听目录，编辑器保存时常以重命名替换文件
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", m.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := m.reload(); err != nil {
					logger.Warn("config reload failed: %v", err)
					continue
				}
				logger.Info("config reloaded from %s", m.path)
				if onChange != nil {
					onChange(m.Get())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error: %v", err)
			}
		}
	}()
	return nil
}

// reload 只在文件可解析且合法时替换当前配置
func (m *Manager) reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	cfg := Default()
	if err := decode(m.path, data, &cfg); err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

func decode(path string, data []byte, cfg *structs.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return json.Unmarshal(data, cfg)
	}
}

func encode(path string, cfg structs.Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}
