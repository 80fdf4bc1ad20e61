package startup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pixia-chat/pixia/config"
	"github.com/pixia-chat/pixia/config/structs"
	"github.com/pixia-chat/pixia/metrics"
	"github.com/pixia-chat/pixia/secret"
	"github.com/pixia-chat/pixia/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// App 命令共享的运行时依赖
type App struct {
	Config   *config.Manager
	DB       *gorm.DB
	Store    *storage.Store
	Secrets  secret.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

// loadConfig 读取配置，不打开数据库
func loadConfig(path string) (*config.Manager, error) {
	m := config.NewManager(path)
	if err := m.Load(); err != nil {
		return nil, err
	}
	logger.Info("config loaded from %s", m.Path())
	return m, nil
}

// openApp 加载配置、密钥与数据库
func openApp(ctx context.Context, configPath string, watch bool) (*App, error) {
	m, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if watch {
		if err := m.Watch(ctx, func(cfg structs.Config) {
			logger.Info("settings changed, model %s, mode %s", cfg.Provider.Model, cfg.Provider.APIMode)
		}); err != nil {
			logger.Warn("config watch disabled: %v", err)
		}
	}
	cfg := m.Get()

	secrets, err := secret.NewEnvStore(cfg.Secrets.EnvFile, cfg.Secrets.Dir)
	if err != nil {
		return nil, err
	}

	db, err := storage.InitStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	met, err := metrics.New(reg)
	if err != nil {
		storage.Close(db)
		return nil, err
	}

	return &App{
		Config:   m,
		DB:       db,
		Store:    storage.NewStore(db),
		Secrets:  secrets,
		Registry: reg,
		Metrics:  met,
	}, nil
}

// Close 关闭数据库
func (a *App) Close() {
	if err := storage.Close(a.DB); err != nil {
		logger.Warn("close storage failed: %v", err)
	}
}

// serveMetrics 在 addr 上暴露指标直到 ctx 结束
func (a *App) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed: %v", err)
		}
	}()
}
