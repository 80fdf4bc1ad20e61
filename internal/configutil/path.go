// Package configutil 配置路径工具
package configutil

import (
	"os"
	"path/filepath"
)

// DefaultDir 默认配置目录
const DefaultDir = "~/.config/pixia"

// ExpandPath 展开路径中的 ~ 和环境变量
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		// 获取用户家目录
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = homeDir + path[1:]
		}
	}
	// 展开环境变量
	return os.ExpandEnv(path)
}

// PathFromEnv 优先读取环境变量，否则使用默认值，并展开
func PathFromEnv(envName string, fallback string) string {
	if v := os.Getenv(envName); v != "" {
		return ExpandPath(v)
	}
	return ExpandPath(fallback)
}

// EnsureParent 确保文件的父目录存在
func EnsureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
