// Package loop 终端对话循环
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/pixia-chat/pixia/chat"
	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/log"
	"github.com/pixia-chat/pixia/metrics"
	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/pixia-chat/pixia/secret"
	"github.com/pixia-chat/pixia/storage"
	storageStructs "github.com/pixia-chat/pixia/storage/structs"
	"github.com/pixia-chat/pixia/ui/funcs"
)

const (
	// ColorReset 重置颜色
	ColorReset = "\033[0m"
	// ColorRed 红色
	ColorRed = "\033[31m"
	// ColorGreen 绿色
	ColorGreen = "\033[32m"
	// ColorYellow 黄色
	ColorYellow = "\033[33m"
	// ColorBlue 蓝色
	ColorBlue = "\033[34m"
	// ColorPurple 紫色
	ColorPurple = "\033[35m"
	// ColorCyan 青色
	ColorCyan = "\033[36m"
	// ColorBold 加粗
	ColorBold = "\033[1m"
)

var logger *log.LogsObj

func init() {
	logger = log.New("loop")
}

// errBack 返回会话列表
var errBack = errors.New("back to session list")

// Options 循环依赖项
type Options struct {
	Store       *storage.Store
	Settings    func() structs.Config
	Secrets     secret.Store
	Metrics     *metrics.Metrics
	HistoryFile string
	Session     string // 直接进入的会话，序号或 UUID 前缀
}

// Loop 交互循环
type Loop struct {
	opts   Options
	out    io.Writer
	reader *lineReader
	sigCh  chan os.Signal
}

// printBoxHeader 打印简单的盒子标题
func (l *Loop) printBoxHeader(title string, color string) {
	fmt.Fprintf(l.out, "\n%s%s┌─ %s ─┐%s\n", ColorBold, color, title, ColorReset)
}

// printBanner 打印宽标题
func (l *Loop) printBanner(title string) {
	fmt.Fprintf(l.out, "\n%s%s╔════════════════════════════════════════════════════════════╗%s\n", ColorBold, ColorCyan, ColorReset)
	fmt.Fprintf(l.out, "%s%s║%s  %-58s%s%s║%s\n", ColorBold, ColorCyan, ColorReset, title, ColorBold, ColorCyan, ColorReset)
	fmt.Fprintf(l.out, "%s%s╚════════════════════════════════════════════════════════════╝%s\n", ColorBold, ColorCyan, ColorReset)
}

func (l *Loop) errorf(format string, v ...any) {
	fmt.Fprintf(l.out, "%s❌ %s%s\n", ColorRed, fmt.Sprintf(format, v...), ColorReset)
}

func (l *Loop) okf(format string, v ...any) {
	fmt.Fprintf(l.out, "%s✓ %s%s\n", ColorGreen, fmt.Sprintf(format, v...), ColorReset)
}

// Start 启动对话循环，ctx 结束或用户退出时返回
func Start(ctx context.Context, opts Options) error {
	l := &Loop{
		opts:   opts,
		out:    os.Stdout,
		reader: newLineReader(opts.HistoryFile),
		sigCh:  make(chan os.Signal, 1),
	}
	defer l.reader.Close()
	signal.Notify(l.sigCh, os.Interrupt, syscall.SIGINT)
	defer signal.Stop(l.sigCh)

	logger.Info("loop initing")
	fmt.Fprintln(l.out, "\033[2J")
	l.printBanner("Chat Sessions Manager")

	ref := opts.Session
	for {
		session, err := l.pickSession(ctx, ref)
		ref = ""
		if err != nil {
			if isExit(err) {
				fmt.Fprintf(l.out, "\n%s%sGoodbye!%s\n", ColorBold, ColorCyan, ColorReset)
				return nil
			}
			return err
		}
		err = l.runSession(ctx, session)
		if errors.Is(err, errBack) {
			continue
		}
		if isExit(err) {
			fmt.Fprintf(l.out, "\n%s%sGoodbye!%s\n", ColorBold, ColorCyan, ColorReset)
			return nil
		}
		return err
	}
}

// isExit 用户中止输入或 ctx 结束
func isExit(err error) bool {
	return errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled)
}

func (l *Loop) showSessions(sessions []storageStructs.Sessions) {
	if len(sessions) == 0 {
		fmt.Fprintf(l.out, "%s%sNo existing chats found.%s\n", ColorYellow, ColorBold, ColorReset)
	} else {
		fmt.Fprintf(l.out, "\n%s%sAvailable Chat Sessions:%s\n", ColorBold, ColorBlue, ColorReset)
		for idx, v := range sessions {
			pin := " "
			if v.IsPinned {
				pin = "*"
			}
			fmt.Fprintf(l.out, "  %s[%2d]%s %s %s %s(%s)%s\n", ColorGreen, idx+1, ColorReset, pin, v.Title, ColorBlue, funcs.ShortID(&v), ColorReset)
		}
	}

	fmt.Fprintf(l.out, "\n%sCommands:%s\n", ColorBold, ColorReset)
	if len(sessions) > 0 {
		fmt.Fprintf(l.out, "  %s[ 1-%d]%s %sEnter existing chat (N = chat number)%s\n", ColorGreen, len(sessions), ColorReset, ColorBlue, ColorReset)
	}
	fmt.Fprintf(l.out, "  %s[   0]%s %sCreate new chat%s\n", ColorGreen, ColorReset, ColorBlue, ColorReset)
	if len(sessions) > 0 {
		fmt.Fprintf(l.out, "  %s[  -N]%s %sDelete chat (N = chat number)%s\n", ColorRed, ColorReset, ColorBlue, ColorReset)
	}
}

// pickSession 选择、创建或删除会话，ref 非空时直接查找
func (l *Loop) pickSession(ctx context.Context, ref string) (*storageStructs.Sessions, error) {
	store := l.opts.Store
	sessions, err := funcs.GetSessions(ctx, store)
	if err != nil {
		return nil, err
	}
	if ref != "" {
		session, err := funcs.FindSession(sessions, ref)
		if err == nil {
			return session, nil
		}
		l.errorf("%v", err)
	}
	l.showSessions(sessions)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprintf(l.out, "\n%s%s┌─ Command ─┐%s\n", ColorBold, ColorPurple, ColorReset)
		input, err := l.reader.Read("│ DO> ")
		if err != nil {
			return nil, err
		}
		input = strings.TrimSpace(input)
		logger.Debug("user input: %v", input)
		if input == "" {
			continue
		}

		inputNum, err := strconv.Atoi(input)
		if err != nil {
			// 允许输入 UUID 前缀
			session, findErr := funcs.FindSession(sessions, input)
			if findErr != nil {
				l.errorf("Invalid input: please enter a number or session ID")
				continue
			}
			return session, nil
		}

		switch {
		case inputNum < 0:
			absNum := -inputNum
			if absNum > len(sessions) {
				l.errorf("Invalid chat number: %d (valid range: 1-%d)", absNum, len(sessions))
				continue
			}
			deleted := sessions[absNum-1]
			logger.Info("delete chat %d (ID: %v)", absNum, deleted.ID)
			if err := funcs.DeleteSession(ctx, store, &deleted); err != nil {
				l.errorf("Delete failed: %v", err)
				continue
			}
			l.okf("Chat %q deleted successfully", deleted.Title)
			if sessions, err = funcs.GetSessions(ctx, store); err != nil {
				return nil, err
			}
			l.showSessions(sessions)
		case inputNum == 0:
			logger.Info("create new chat")
			session, err := funcs.CreateSession(ctx, store, "")
			if err != nil {
				l.errorf("Create failed: %v", err)
				continue
			}
			l.okf("New chat created (ID: %s)", funcs.ShortID(session))
			return session, nil
		case inputNum > len(sessions):
			l.errorf("Invalid chat number: %d (valid range: 1-%d)", inputNum, len(sessions))
		default:
			return &sessions[inputNum-1], nil
		}
	}
}

// runSession 会话内的输入循环
func (l *Loop) runSession(ctx context.Context, session *storageStructs.Sessions) error {
	cfg := l.opts.Settings()
	p := newPrinter(l.out)
	c := funcs.OpenChat(l.opts.Store, session, l.opts.Settings, l.opts.Secrets,
		chat.WithMetrics(l.opts.Metrics),
		chat.WithObserver(p.observe),
	)
	defer c.Close()
	logger.Debug("use session ID:%v|Model:%v|Mode:%v", session.ID, cfg.Provider.Model, cfg.Provider.APIMode)

	l.printBanner("Chat Session: " + session.Title)
	l.printBoxHeader("Configuration", ColorPurple)
	fmt.Fprintf(l.out, "  %sModel:%s  %s\n", ColorBlue, ColorReset, cfg.Provider.Model)
	fmt.Fprintf(l.out, "  %sMode:%s   %s (stream: %v)\n", ColorBlue, ColorReset, cfg.Provider.APIMode, cfg.Provider.Stream)
	fmt.Fprintf(l.out, "  %sID:%s     %s\n", ColorBlue, ColorReset, session.UUID)

	if err := l.printHistory(ctx, session); err != nil {
		return err
	}

	l.printBanner("Ready for Input")
	fmt.Fprintf(l.out, "%sType /help for available commands or enter your message:%s\n", ColorBlue, ColorReset)

	var lastInput string
	var pending *llm.ImageAttachment
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprintf(l.out, "\n%s%s┌─ Input ─┐%s\n", ColorBold, ColorPurple, ColorReset)
		input, err := l.reader.Read("│ > ")
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		logger.Debug("user input: %v", input)
		if input == "" {
			continue
		}

		if input == "!" {
			fmt.Fprintf(l.out, "%s%s(Repeating)%s\n", ColorBold, ColorYellow, ColorReset)
			input = lastInput
			if input == "" {
				continue
			}
		} else {
			lastInput = input
		}

		if strings.HasPrefix(input, "/") {
			args := strings.Fields(input)
			switch args[0] {
			case "/help":
				l.printHelp()
			case "/exit":
				return io.EOF
			case "/back":
				return errBack
			case "/history":
				if err := l.printHistory(ctx, session); err != nil {
					l.errorf("%v", err)
				}
			case "/regen":
				l.regenerate(ctx, c, p, session)
			case "/rename":
				title := strings.TrimSpace(strings.TrimPrefix(input, "/rename"))
				if err := funcs.RenameSession(ctx, l.opts.Store, session, title); err != nil {
					l.errorf("Rename failed: %v", err)
					continue
				}
				l.okf("Renamed to %q", session.Title)
			case "/pin":
				pinned, err := funcs.TogglePin(ctx, l.opts.Store, session)
				if err != nil {
					l.errorf("Pin failed: %v", err)
					continue
				}
				l.okf("Pinned: %v", pinned)
			case "/image":
				if len(args) < 2 {
					l.errorf("Usage: /image <path>")
					continue
				}
				img, err := funcs.LoadImage(strings.TrimSpace(strings.TrimPrefix(input, "/image")))
				if err != nil {
					l.errorf("Load image failed: %v", err)
					continue
				}
				pending = img
				l.okf("Image attached (%s, %d bytes), it will be sent with the next message", img.MIMEType, len(img.Data))
			case "/send":
				// 只发送图片
				if pending == nil {
					l.errorf("No image attached")
					continue
				}
				l.send(ctx, c, p, session, "", pending)
				pending = nil
			case "/usage":
				l.printUsage(c.Snapshot())
			default:
				l.errorf("Unknown command: %s", args[0])
				fmt.Fprintf(l.out, "%sType /help for available commands%s\n", ColorBlue, ColorReset)
			}
			continue
		}

		l.send(ctx, c, p, session, input, pending)
		pending = nil
	}
}

func (l *Loop) printHelp() {
	l.printBanner("Available Commands")
	fmt.Fprintf(l.out, "\n%sGeneral Commands:%s\n", ColorBold, ColorReset)
	fmt.Fprintf(l.out, "  %s/help%s          Show this help message\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "  %s/exit%s          Exit the chat loop\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "  %s/back%s          Return to the session list\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "  %s/history%s       Show conversation history\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "  %s/usage%s         Show token usage of the last reply\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "\n%sSession Commands:%s\n", ColorBold, ColorReset)
	fmt.Fprintf(l.out, "  %s/regen%s         Regenerate the last reply\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "  %s/rename <t>%s    Rename this chat\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "  %s/pin%s           Toggle pinned\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "  %s/image <path>%s  Attach an image to the next message\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "  %s/send%s          Send the attached image without text\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "\n%sShortcuts:%s\n", ColorBold, ColorReset)
	fmt.Fprintf(l.out, "  %s!%s      Repeat last input\n", ColorGreen, ColorReset)
	fmt.Fprintf(l.out, "  %sCtrl+C%s Stop the reply and keep what was received\n", ColorGreen, ColorReset)
}

func (l *Loop) printHistory(ctx context.Context, session *storageStructs.Sessions) error {
	l.printBanner("Conversation History")
	history, err := funcs.GetHistory(ctx, l.opts.Store, session)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintf(l.out, "\n%s%sNo messages yet. Start typing to begin!%s\n", ColorYellow, ColorBold, ColorReset)
		return nil
	}
	for _, v := range history {
		switch v.Role {
		case storageStructs.MessagesRoleUser:
			fmt.Fprintf(l.out, "\n%s%s┌─ User ─┐%s\n", ColorBold, ColorGreen, ColorReset)
			if v.HasImage() {
				fmt.Fprintf(l.out, "%s[Image %s, %d bytes]%s\n", ColorPurple, v.ImageMIME, len(v.ImageData), ColorReset)
			}
		case storageStructs.MessagesRoleAssistant:
			fmt.Fprintf(l.out, "\n%s%s┌─ AI ─┐%s\n", ColorBold, ColorBlue, ColorReset)
			if v.Reasoning != "" {
				fmt.Fprintf(l.out, "%s[Thinking]%s%s\n", ColorBlue, v.Reasoning, ColorReset)
			}
		case storageStructs.MessagesRoleSystem:
			fmt.Fprintf(l.out, "\n%s%s┌─ System ─┐%s\n", ColorBold, ColorYellow, ColorReset)
		}
		fmt.Fprintf(l.out, "%s\n", v.Content)
	}
	return nil
}

func (l *Loop) printUsage(snap chat.Snapshot) {
	if snap.Usage == nil {
		fmt.Fprintf(l.out, "%s(No usage reported)%s\n", ColorYellow, ColorReset)
		return
	}
	total, _ := snap.Usage.Total()
	fmt.Fprintf(l.out, "%sTokens:%s %d total", ColorBlue, ColorReset, total)
	if snap.Usage.PromptTokens != nil {
		fmt.Fprintf(l.out, ", %d prompt", *snap.Usage.PromptTokens)
	}
	if snap.Usage.CompletionTokens != nil {
		fmt.Fprintf(l.out, ", %d completion", *snap.Usage.CompletionTokens)
	}
	fmt.Fprintln(l.out)
}

func (l *Loop) send(ctx context.Context, c *chat.Controller, p *printer, s *storageStructs.Sessions, text string, image *llm.ImageAttachment) {
	p.reset()
	if !c.Send(ctx, text, image) {
		l.reportRejected(c)
		return
	}
	l.await(ctx, c, p, s)
}

func (l *Loop) regenerate(ctx context.Context, c *chat.Controller, p *printer, s *storageStructs.Sessions) {
	history, err := funcs.GetHistory(ctx, l.opts.Store, s)
	if err != nil {
		l.errorf("%v", err)
		return
	}
	target := lastReplyTarget(history)
	if target == 0 {
		l.errorf("Nothing to regenerate")
		return
	}
	p.reset()
	if !c.Regenerate(ctx, target) {
		l.reportRejected(c)
		return
	}
	l.await(ctx, c, p, s)
}

// lastReplyTarget 最后一条助手或用户消息
func lastReplyTarget(history []storageStructs.Messages) uint64 {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != storageStructs.MessagesRoleSystem {
			return history[i].ID
		}
	}
	return 0
}

func (l *Loop) reportRejected(c *chat.Controller) {
	if msg := c.Snapshot().Error; msg != "" {
		l.errorf("Error: %s", msg)
		return
	}
	l.errorf("Message was not sent")
}

// await 输出回复直到回合结束，Ctrl+C 停止并保留已收到的内容
func (l *Loop) await(ctx context.Context, c *chat.Controller, p *printer, s *storageStructs.Sessions) {
	fmt.Fprintf(l.out, "\n%s%s┌─ AI Response ─┐%s\n", ColorBold, ColorBlue, ColorReset)
	var final chat.Snapshot
	stopped := false
wait:
	for {
		select {
		case final = <-p.done:
			break wait
		case <-l.sigCh:
			if !stopped {
				stopped = true
				c.Stop()
			}
		case <-ctx.Done():
			c.Cancel()
			return
		}
	}

	var reply string
	if history, err := funcs.GetHistory(ctx, l.opts.Store, s); err == nil && len(history) > 0 {
		if last := history[len(history)-1]; last.Role == storageStructs.MessagesRoleAssistant {
			reply = last.Content
		}
	}
	printed := p.finish(reply)
	switch {
	case final.Error != "":
		fmt.Fprintf(l.out, "\n%s❌ Error:%s\n%s\n", ColorRed, ColorReset, final.Error)
	case stopped:
		fmt.Fprintf(l.out, "%s%s(Interrupted)%s\n", ColorBold, ColorYellow, ColorReset)
	case !printed:
		fmt.Fprintf(l.out, "%s(No response)%s\n", ColorYellow, ColorReset)
	}
}
