// Package sse Server-Sent Events 行解析
package sse

import (
	"bufio"
	"context"
	"io"
	"iter"
	"strings"
)

// DataPrefix data 字段前缀
const DataPrefix = "data:"

// DoneMarker 流结束标记，由调用方识别
const DoneMarker = "[DONE]"

const maxLineSize = 4 * 1024 * 1024

// Parser 行缓冲解析器，空行结束一个事件
type Parser struct {
	buffer []string
}

// NewParser 创建解析器
func NewParser() *Parser {
	return &Parser{}
}

// Feed 输入一行（不含换行符），事件结束时返回其中每个 data 行的内容
func (p *Parser) Feed(line string) []string {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return p.Flush()
	}
	// 注释行与非 data 字段不输出
	if !strings.HasPrefix(line, DataPrefix) {
		return nil
	}
	payload := strings.TrimPrefix(line[len(DataPrefix):], " ")
	p.buffer = append(p.buffer, payload)
	return nil
}

// Flush 输出并清空当前缓冲
func (p *Parser) Flush() []string {
	if len(p.buffer) == 0 {
		return nil
	}
	out := p.buffer
	p.buffer = nil
	return out
}

// Payloads 按到达顺序读取 r 中的载荷，输入结束时输出剩余缓冲
func Payloads(ctx context.Context, r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		parser := NewParser()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			for _, payload := range parser.Feed(scanner.Text()) {
				if !yield(payload, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			yield("", err)
			return
		}
		for _, payload := range parser.Flush() {
			if !yield(payload, nil) {
				return
			}
		}
	}
}
