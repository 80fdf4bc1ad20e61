package chat

import (
	"github.com/pixia-chat/pixia/log"
	"github.com/pixia-chat/pixia/metrics"
	"github.com/pixia-chat/pixia/provider/factory"
)

// Option 控制器选项
type Option func(*Controller)

// WithClientFactory 替换适配器的创建方式
func WithClientFactory(fn factory.Func) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newClient = fn
		}
	}
}

// WithLogger 替换日志
func WithLogger(l log.Interface) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics 记录指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithObserver 状态变化时回调，回调不会并发执行
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}
