package loop

import (
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/pixia-chat/pixia/internal/configutil"
)

// HistoryPath 输入历史文件
const HistoryPath = configutil.DefaultDir + "/chat_history"

// lineReader 带历史记录的行输入
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader(historyFile string) *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	if historyFile == "" {
		historyFile = HistoryPath
	}
	r := &lineReader{line: line, historyFile: configutil.ExpandPath(historyFile)}
	if f, err := os.Open(r.historyFile); err == nil {
		if _, err := line.ReadHistory(f); err != nil {
			logger.Warn("read input history failed: %v", err)
		}
		f.Close()
	}
	return r
}

// Read 读取一行，非空输入加入历史
func (r *lineReader) Read(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close 保存历史并恢复终端
func (r *lineReader) Close() {
	defer r.line.Close()
	if err := configutil.EnsureParent(r.historyFile); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		logger.Warn("save input history failed: %v", err)
		return
	}
	defer f.Close()
	if _, err := r.line.WriteHistory(f); err != nil {
		logger.Warn("save input history failed: %v", err)
	}
}
