package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// A typed nil keeps the global recorder callable before InitMetrics
	// runs; the methods no-op on a nil receiver.
	globalMetrics Metrics = (*PrometheusMetrics)(nil)
	metricsMu     sync.RWMutex
)

// Metrics records the service's operational signals. All methods are
// safe to call on a nil or partially initialized implementation.
type Metrics interface {
	RecordRoleCall(ctx context.Context, role string, duration time.Duration, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordTaskOutcome(ctx context.Context, mode, outcome string)
	RecordWebhookJob(ctx context.Context, outcome string)
	RecordRateLimitRejection(ctx context.Context, principal string)
}

type PrometheusMetrics struct {
	roleDuration    metric.Float64Histogram
	roleCallsTotal  metric.Int64Counter
	roleErrorsTotal metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	taskOutcomeTotal     metric.Int64Counter
	webhookJobsTotal     metric.Int64Counter
	rateLimitRejectTotal metric.Int64Counter
}

func (m *PrometheusMetrics) RecordRoleCall(ctx context.Context, role string, duration time.Duration, err error) {
	if m == nil || m.roleDuration == nil || m.roleCallsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("role", role),
	}

	m.roleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.roleCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.roleErrorsTotal != nil {
		m.roleErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil || m.toolCallsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
	}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.toolErrorsTotal != nil {
		m.toolErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordTaskOutcome(ctx context.Context, mode, outcome string) {
	if m == nil || m.taskOutcomeTotal == nil {
		return
	}
	m.taskOutcomeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

func (m *PrometheusMetrics) RecordWebhookJob(ctx context.Context, outcome string) {
	if m == nil || m.webhookJobsTotal == nil {
		return
	}
	m.webhookJobsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (m *PrometheusMetrics) RecordRateLimitRejection(ctx context.Context, principal string) {
	if m == nil || m.rateLimitRejectTotal == nil {
		return
	}
	m.rateLimitRejectTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("principal", principal),
	))
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
