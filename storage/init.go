package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/pixia-chat/pixia/storage/structs"
	"gorm.io/gorm"
)

// MemoryPath 内存数据库
const MemoryPath = ":memory:"

// 文件数据库启用外键并等待写锁
const filePragmas = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// InitDB 打开并迁移数据库
func InitDB(dbPath string) (*gorm.DB, error) {
	dsn := dbPath
	// 支持内存数据库
	if dbPath != MemoryPath {
		dir := filepath.Dir(dbPath)
		if dir != "." {
			// 创建父目录（如果不存在）
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
			}
		}
		if !strings.Contains(dbPath, "?") {
			dsn += filePragmas
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: NewLogger()})
	if err != nil {
		return nil, fmt.Errorf("failed to open db %s: %w", dbPath, err)
	}
	if err := Prepare(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Prepare 限制为单连接并迁移表结构
func Prepare(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	// 内存库每个连接都是独立的库，sqlite 也只允许单写
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(structs.Tables...); err != nil {
		return fmt.Errorf("failed to automigrate: %w", err)
	}
	return nil
}
