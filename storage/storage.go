// Package storage 会话与消息的持久化
package storage

import (
	"github.com/pixia-chat/pixia/internal/configutil"
	"github.com/pixia-chat/pixia/log"
	"gorm.io/gorm"
)

const defaultDBPath = configutil.DefaultDir + "/pixia.sqlite"
const envDBName = "PIXIA_DEBUG_SQLITEFILE"

var logger *log.LogsObj

func init() {
	logger = log.New("storage")
}

// InitStorage 按配置路径初始化数据库，环境变量 PIXIA_DEBUG_SQLITEFILE 优先
func InitStorage(dbPath string) (*gorm.DB, error) {
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	dbPath = configutil.PathFromEnv(envDBName, dbPath)

	logger.Info("storage init in %s", dbPath)
	db, err := InitDB(dbPath)
	if err != nil {
		logger.Error("failed to init db %s: %v", dbPath, err)
		return nil, err
	}
	return db, nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
