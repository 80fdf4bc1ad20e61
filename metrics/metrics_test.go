package metrics

import (
	"testing"
	"time"

	"github.com/pixia-chat/pixia/provider/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCounters 测试计数
func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Turn(true, OutcomeCompleted)
	m.Turn(true, OutcomeCompleted)
	m.Turn(false, OutcomeFailed)
	m.StreamEvent(llm.EventContent)
	m.StreamEvent(llm.EventReasoning)
	m.StreamEvent(llm.EventContent)
	m.TitleJob(OutcomeRenamed)
	m.ObserveRequest(true, 300*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues("stream", OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("send", OutcomeFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.streamEvents.WithLabelValues("content")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.titleJobs.WithLabelValues(OutcomeRenamed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
}

// TestRegisterTwice 测试重复注册时复用已有指标
func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.Turn(false, OutcomeStopped)
	second.Turn(false, OutcomeStopped)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.turns.WithLabelValues("send", OutcomeStopped)))
}

// TestNilMetrics 测试 nil 指标
func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Turn(true, OutcomeCanceled)
		m.StreamEvent(llm.EventUsage)
		m.ObserveRequest(false, time.Second)
		m.TitleJob(OutcomeSkipped)
	})
}
