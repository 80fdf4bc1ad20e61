// Package metrics 对话流程的 Prometheus 指标
package metrics

import (
	"errors"
	"time"

	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace 指标命名空间
const Namespace = "pixia"

// 回合结果
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeCanceled  = "canceled"
	OutcomeFailed    = "failed"
	OutcomeEmpty     = "empty"
	OutcomeRenamed   = "renamed"
	OutcomeSkipped   = "skipped"
)

// Metrics 指标集合，nil 时所有方法为空操作
type Metrics struct {
	turns           *prometheus.CounterVec
	streamEvents    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	titleJobs       *prometheus.CounterVec
}

// New 创建并注册指标，reg 为空时使用默认注册器
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "turns_total",
			Help:      "Chat turns by request mode and outcome.",
		}, []string{"mode", "outcome"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stream_events_total",
			Help:      "Stream events applied to drafts by kind.",
		}, []string{"kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Model request duration by request mode.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		titleJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "title_jobs_total",
			Help:      "Title generation jobs by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.turns, m.streamEvents, m.requestDuration, m.titleJobs} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				// 复用已注册的同名指标
				switch existing := already.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					m.reuseCounter(c, existing)
				case *prometheus.HistogramVec:
					m.requestDuration = existing
				}
				continue
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) reuseCounter(c prometheus.Collector, existing *prometheus.CounterVec) {
	switch c {
	case m.turns:
		m.turns = existing
	case m.streamEvents:
		m.streamEvents = existing
	case m.titleJobs:
		m.titleJobs = existing
	}
}

// Turn 记录一次回合结果
func (m *Metrics) Turn(stream bool, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(modeLabel(stream), outcome).Inc()
}

// StreamEvent 记录一个流事件
func (m *Metrics) StreamEvent(kind llm.EventKind) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(kind.String()).Inc()
}

// ObserveRequest 记录请求耗时
func (m *Metrics) ObserveRequest(stream bool, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(modeLabel(stream)).Observe(d.Seconds())
}

// TitleJob 记录标题任务结果
func (m *Metrics) TitleJob(outcome string) {
	if m == nil {
		return
	}
	m.titleJobs.WithLabelValues(outcome).Inc()
}

func modeLabel(stream bool) string {
	if stream {
		return "stream"
	}
	return "send"
}
