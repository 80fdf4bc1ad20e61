package log

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Entry 日志条目
type Entry struct {
	Timestamp string
	Level     string
	Module    string
	Message   string
	Line      string
}

var linePattern = regexp.MustCompile(`^(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})\s+\[([A-Z]+)\]\[([^\]]+)\]\s?(.*)$`)

var levelPriority = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

// ParseLine 解析一行日志，格式不符返回 nil
// 2026/10/14 14:04:35 [INFO][log] log inited
func ParseLine(line string) *Entry {
	matches := linePattern.FindStringSubmatch(line)
	if len(matches) != 5 {
		return nil
	}
	return &Entry{
		Timestamp: matches[1],
		Level:     matches[2],
		Module:    matches[3],
		Message:   matches[4],
		Line:      line,
	}
}

// AtLeast 判断条目级别是否不低于 minLevel，未知级别总是显示
func (e *Entry) AtLeast(minLevel string) bool {
	entryPriority, ok := levelPriority[e.Level]
	if !ok {
		return true
	}
	minPriority, ok := levelPriority[strings.ToUpper(minLevel)]
	if !ok {
		return true
	}
	return entryPriority >= minPriority
}

// ReadEntries 读取日志文件中不低于 minLevel 的条目
func ReadEntries(path string, minLevel string) ([]Entry, error) {
	flushLogs()
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry := ParseLine(scanner.Text())
		if entry == nil || !entry.AtLeast(minLevel) {
			continue
		}
		entries = append(entries, *entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read log file: %w", err)
	}
	return entries, nil
}

// Clear 清空日志文件
func Clear(path string) error {
	flushLogs()
	if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear log file: %w", err)
	}
	return nil
}
