package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pixia-chat/pixia/log"
)

var logger *log.LogsObj

func init() {
	logger = log.New("mock")
}

// RecordedRequest 收到的请求
type RecordedRequest struct {
	Path          string
	Authorization string
	Body          []byte
}

// Server 模拟服务器
type Server struct {
	app *echo.Echo

	mu       sync.Mutex
	requests []RecordedRequest
}

// New 创建模拟服务器
func New() *Server {
	s := &Server{}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler

	e.POST("/v1/chat/completions", s.handleChatCompletion)
	e.POST("/v1/responses", s.handleResponses)
	e.GET("/v1/models", handleModels)
	s.app = e
	return s
}

// Handler 返回 http.Handler，可用于 httptest
func (s *Server) Handler() http.Handler {
	return s.app
}

// Requests 返回收到的请求副本
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// LastRequest 最后一个请求
func (s *Server) LastRequest() (RecordedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return RecordedRequest{}, false
	}
	return s.requests[len(s.requests)-1], true
}

// bind 校验鉴权、记录请求体并解析
func (s *Server) bind(c echo.Context, target any) error {
	auth := c.Request().Header.Get("Authorization")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{Path: c.Path(), Authorization: auth, Body: body})
	s.mu.Unlock()

	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(target); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	return nil
}

// errorHandler 以 OpenAI 的错误形状返回
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	message := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = fmt.Sprint(he.Message)
	}
	_ = c.JSON(status, ErrorBody{Error: ErrorDetail{Message: message, Type: "invalid_request_error"}})
}

func rateLimited(c echo.Context) error {
	return c.JSON(http.StatusTooManyRequests, ErrorBody{Error: ErrorDetail{Message: "rate limited", Type: "rate_limit_exceeded"}})
}

func handleModels(c echo.Context) error {
	data := make([]Model, 0, len(ModelIDs))
	for _, id := range ModelIDs {
		data = append(data, Model{ID: id, Object: "model", Created: time.Now().Unix(), OwnedBy: "mock"})
	}
	return c.JSON(http.StatusOK, ModelsResponse{Object: "list", Data: data})
}

// startStream 写入 SSE 响应头
func startStream(c echo.Context) *echo.Response {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()
	return w
}

func writeRaw(w *echo.Response, data string) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	w.Flush()
	return nil
}

func writeData(w *echo.Response, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	return writeRaw(w, string(data))
}

// writeEvent 写入带 event 名的 Responses 事件
func writeEvent(w *echo.Response, ev StreamEvent) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
		return fmt.Errorf("write SSE event name: %w", err)
	}
	return writeData(w, ev)
}

// Serve 监听 addr 直到 ctx 结束
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{Addr: addr, Handler: s.app}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("mock server listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// StartServerTask 在后台启动服务器，等待监听就绪
func StartServerTask(ctx context.Context) *Server {
	s := New()
	go func() {
		if err := s.Serve(ctx, Addr); err != nil {
			logger.Error("mock server failed: %v", err)
		}
	}()
	waitReady("http://localhost" + Addr + "/v1/models")
	return s
}

func waitReady(url string) {
	for range 50 {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Start 检查环境变量并启动服务器
func Start(ctx context.Context) {
	if os.Getenv("PIXIA_DEBUG_MOCKSERVER") == "true" {
		StartServerTask(ctx)
	}
}
