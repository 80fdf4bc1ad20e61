// Package startup 命令行入口与依赖装配
package startup

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixia-chat/pixia/demo/loop"
	"github.com/pixia-chat/pixia/log"
	"github.com/pixia-chat/pixia/mock/openai"
	"github.com/pixia-chat/pixia/product"
	"github.com/spf13/cobra"
)

var logger *log.LogsObj

func init() {
	logger = log.New("startup")
}

// flags 全局参数
type flags struct {
	configPath  string
	session     string
	metricsAddr string
	historyFile string
}

// Startup 启动程序，返回退出码
func Startup() int {
	log.Load()
	defer log.Shutdown()
	defer log.SolvePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	// 读取环境变量 PIXIA_WORKDIR
	if workdir := os.Getenv("PIXIA_WORKDIR"); workdir != "" {
		if err := os.Chdir(workdir); err != nil {
			logger.Warn("chdir to %s failed: %v", workdir, err)
		}
	}

	// PIXIA_DEBUG_MOCKSERVER=true 时启动本地模拟服务器
	openai.Start(ctx)

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		logger.Error("command failed: %v", err)
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// NewRootCommand 构造根命令，不带子命令时进入对话
func NewRootCommand() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "pixia",
		Short:         "Chat with OpenAI-compatible models from the terminal",
		Long:          "Pixia streams replies from Chat Completions or Responses endpoints and keeps every session in a local sqlite store.",
		Version:       product.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), f)
		},
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Config file (.json, .yaml or .toml), defaults to $PIXIA_CONFIG_PATH or ~/.config/pixia/config.json")
	addChatFlags(root, f)

	chatCmd := &cobra.Command{
		Use:     "chat",
		Short:   "Open the interactive chat loop",
		Aliases: []string{"c"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), f)
		},
	}
	addChatFlags(chatCmd, f)

	root.AddCommand(
		chatCmd,
		newSessionsCommand(f),
		newMockCommand(),
		newLogCommand(),
		newConfigCommand(f),
	)
	return root
}

func addChatFlags(cmd *cobra.Command, f *flags) {
	cmd.Flags().StringVarP(&f.session, "session", "s", "", "Enter a session directly by list number or ID prefix")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address, e.g. :9464")
	cmd.Flags().StringVar(&f.historyFile, "history", loop.HistoryPath, "Input history file")
}

// runChat 装配依赖并进入对话循环
func runChat(ctx context.Context, f *flags) error {
	app, err := openApp(ctx, f.configPath, true)
	if err != nil {
		return err
	}
	defer app.Close()

	if f.metricsAddr != "" {
		app.serveMetrics(ctx, f.metricsAddr)
	}

	return loop.Start(ctx, loop.Options{
		Store:       app.Store,
		Settings:    app.Config.Get,
		Secrets:     app.Secrets,
		Metrics:     app.Metrics,
		HistoryFile: f.historyFile,
		Session:     f.session,
	})
}
