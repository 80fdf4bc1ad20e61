package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pixia-chat/pixia/log"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var sqlLogger *log.LogsObj

func init() {
	sqlLogger = log.New("gorm")
}

// DefaultSlowThreshold 慢查询阈值
const DefaultSlowThreshold = 300 * time.Millisecond

// Logger 将 GORM 日志写入 pixia 日志
type Logger struct {
	slow  time.Duration
	level gormLogger.LogLevel
}

// NewLogger 创建日志器
func NewLogger() gormLogger.Interface {
	return &Logger{slow: DefaultSlowThreshold, level: gormLogger.Info}
}

// LogMode 设置日志级别
func (l *Logger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	next := *l
	next.level = level
	return &next
}

// Info 打印信息级别日志
func (l *Logger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Info {
		sqlLogger.Info(msg, data...)
	}
}

// Warn 打印警告级别日志
func (l *Logger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Warn {
		sqlLogger.Warn(msg, data...)
	}
}

// Error 打印错误级别日志
func (l *Logger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Error {
		sqlLogger.Error(msg, data...)
	}
}

// Trace 跟踪 SQL 执行耗时与错误
func (l *Logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	elapsedMs := float64(elapsed.Nanoseconds()) / 1e6

	// 找不到记录属于正常分支
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		sqlLogger.Error("[%.3fms] rows:%d %s; error: %v", elapsedMs, rows, sql, err)
		return
	}
	if l.slow > 0 && elapsed > l.slow {
		sqlLogger.Warn("slow query > %s [%.3fms] rows:%d %s", l.slow, elapsedMs, rows, sql)
		return
	}
	sqlLogger.Debug("[%.3fms] rows:%d %s", elapsedMs, rows, sql)
}
