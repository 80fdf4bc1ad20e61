package loop

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pixia-chat/pixia/chat"
)

// printer 将控制器快照的增量输出到终端
type printer struct {
	out io.Writer

	mu        sync.Mutex
	active    bool
	awaiting  bool
	thinking  bool
	draft     string
	reasoning int
	done      chan chat.Snapshot
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, done: make(chan chat.Snapshot, 1)}
}

// reset 开始新回合前清空计数并丢弃旧结果
func (p *printer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	p.awaiting = false
	p.thinking = false
	p.draft = ""
	p.reasoning = 0
	select {
	case <-p.done:
	default:
	}
}

// observe 控制器观察者
func (p *printer) observe(s chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !s.State.Active() {
		if !p.active {
			return
		}
		p.active = false
		if p.thinking {
			fmt.Fprint(p.out, ColorReset+"\n")
			p.thinking = false
		}
		select {
		case p.done <- s:
		default:
		}
		return
	}

	if !p.active {
		p.active = true
	}
	if s.Awaiting && !p.awaiting {
		p.awaiting = true
		fmt.Fprintf(p.out, "%s(thinking...)%s\n", ColorYellow, ColorReset)
	}
	if len(s.ReasoningDraft) > p.reasoning {
		if !p.thinking {
			p.thinking = true
			fmt.Fprint(p.out, ColorBlue)
		}
		fmt.Fprint(p.out, s.ReasoningDraft[p.reasoning:])
		p.reasoning = len(s.ReasoningDraft)
	}
	if len(s.Draft) > len(p.draft) {
		if p.thinking {
			fmt.Fprint(p.out, ColorReset+"\n")
			p.thinking = false
		}
		fmt.Fprint(p.out, s.Draft[len(p.draft):])
		p.draft = s.Draft
	}
}

// finish 补齐限速期间未输出的尾部，返回是否输出过内容
func (p *printer) finish(content string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(content) > len(p.draft) && strings.HasPrefix(content, p.draft) {
		fmt.Fprint(p.out, content[len(p.draft):])
		p.draft = content
	}
	if p.draft != "" {
		fmt.Fprintln(p.out)
	}
	return p.draft != "" || p.reasoning > 0
}
