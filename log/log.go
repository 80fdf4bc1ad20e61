// Package log 日志模块
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pixia-chat/pixia/internal/configutil"
)

const defaultLogPath = configutil.DefaultDir + "/debug.log"
const envLogName = "PIXIA_LOG_PATH"

var logPath string

// Logger 日志对象
var Logger *log.Logger

var loggerInited bool = false
var loadLck sync.Mutex

// 异步日志相关
type logMessage struct {
	level      string
	moduleName string
	message    string
}

var logChannel chan logMessage
var logWaitGroup sync.WaitGroup
var logFlushMutex sync.Mutex
var droppedLogCount uint64
var isShutdown uint32

// Interface 日志接口，供需要注入日志的组件使用
type Interface interface {
	Info(msg string, v ...any)
	Warn(msg string, v ...any)
	Error(msg string, v ...any)
	Debug(msg string, v ...any)
}

// Load 加载日志文件
func Load() {
	loadLck.Lock()
	defer loadLck.Unlock()
	if loggerInited {
		return
	}
	logPath = configutil.PathFromEnv(envLogName, defaultLogPath)

	var out io.Writer = io.Discard
	if err := configutil.EnsureParent(logPath); err == nil {
		// 追加写入，清空由 Clear 负责
		if file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			out = file
		}
	}

	// 创建logger，输出到文件
	Logger = log.New(out, "", log.LstdFlags)

	// 初始化异步日志channel
	logChannel = make(chan logMessage, 1000) // 缓冲1000条日志

	// 启动日志处理goroutine
	go logWorker()

	loggerInited = true

	sysObj := &LogsObj{moduleName: "log"}
	sysObj.Info("log inited")
}

// Path 当前日志文件路径
func Path() string {
	if logPath == "" {
		return configutil.PathFromEnv(envLogName, defaultLogPath)
	}
	return logPath
}

// logWorker 异步日志处理worker
func logWorker() {
	for msg := range logChannel {
		str := fmt.Sprintf("[%s][%s] %s", msg.level, msg.moduleName, msg.message)
		Logger.Println(str)
		logWaitGroup.Done()
	}
}

// flushLogs 等待所有pending的日志写入完成
func flushLogs() {
	logFlushMutex.Lock()
	defer logFlushMutex.Unlock()
	logWaitGroup.Wait()
}

// Shutdown 刷新并关闭异步日志
func Shutdown() {
	if !loggerInited {
		return
	}
	if !atomic.CompareAndSwapUint32(&isShutdown, 0, 1) {
		return
	}
	flushLogs()
	close(logChannel)
}

// LogsObj 模块日志对象
type LogsObj struct {
	moduleName string
}

func escape(str string) string {
	return strings.NewReplacer(
		"\\", "\\\\",
		"\n", "\\n",
		"\r", "\\r",
		"\t", "\\t",
	).Replace(SanitizeSensitiveInfo(str))
}

func (l *LogsObj) log(level string, msg string, v ...any) {
	str := escape(fmt.Sprintf(msg, v...))

	if atomic.LoadUint32(&isShutdown) == 1 {
		l.write(level, str)
		return
	}

	// 异步写入日志
	logFlushMutex.Lock()
	logWaitGroup.Add(1)
	logFlushMutex.Unlock()

	select {
	case logChannel <- logMessage{
		level:      level,
		moduleName: l.moduleName,
		message:    str,
	}:
	default:
		logWaitGroup.Done()
		atomic.AddUint64(&droppedLogCount, 1)
		l.logSync("WARN", "log channel full, drop log (total dropped: %d)", atomic.LoadUint64(&droppedLogCount))
	}
}

func (l *LogsObj) logSync(level string, msg string, v ...any) {
	l.write(level, escape(fmt.Sprintf(msg, v...)))
}

// write 同步写入已转义的日志
func (l *LogsObj) write(level string, str string) {
	Logger.Printf("[%s][%s] %s", level, l.moduleName, str)
}

// Info 打印日志
func (l *LogsObj) Info(msg string, v ...any) {
	l.log("INFO", msg, v...)
}

// Warn 打印警告
func (l *LogsObj) Warn(msg string, v ...any) {
	l.log("WARN", msg, v...)
}

// Error 打印错误 - 强制同步写入
func (l *LogsObj) Error(msg string, v ...any) {
	// 先flush所有pending的日志
	flushLogs()
	// 然后同步写入error日志
	l.logSync("ERROR", msg, v...)
}

// Debug 打印调试
func (l *LogsObj) Debug(msg string, v ...any) {
	l.log("DEBUG", msg, v...)
}

// New 创建日志对象
func New(moduleName string) *LogsObj {
	if !loggerInited {
		Load()
	}
	return &LogsObj{moduleName: moduleName}
}
