package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool
}

func InitMetrics(cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("maestro")
	m := &PrometheusMetrics{}

	if m.roleDuration, err = meter.Float64Histogram(
		"maestro_role_call_duration_seconds",
		metric.WithDescription("Role invocation duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create role duration histogram: %w", err)
	}

	if m.roleCallsTotal, err = meter.Int64Counter(
		"maestro_role_calls_total",
		metric.WithDescription("Total role invocations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create role calls counter: %w", err)
	}

	if m.roleErrorsTotal, err = meter.Int64Counter(
		"maestro_role_errors_total",
		metric.WithDescription("Total role invocation errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create role errors counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"maestro_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.toolCallsTotal, err = meter.Int64Counter(
		"maestro_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	if m.toolErrorsTotal, err = meter.Int64Counter(
		"maestro_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"maestro_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	if m.llmInputTokens, err = meter.Int64Counter(
		"maestro_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM providers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	if m.llmOutputTokens, err = meter.Int64Counter(
		"maestro_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM providers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	if m.llmErrorsTotal, err = meter.Int64Counter(
		"maestro_llm_errors_total",
		metric.WithDescription("Total LLM request errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.taskOutcomeTotal, err = meter.Int64Counter(
		"maestro_task_outcomes_total",
		metric.WithDescription("Orchestrated task completions by mode and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create task outcomes counter: %w", err)
	}

	if m.webhookJobsTotal, err = meter.Int64Counter(
		"maestro_webhook_jobs_total",
		metric.WithDescription("Webhook job completions by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create webhook jobs counter: %w", err)
	}

	if m.rateLimitRejectTotal, err = meter.Int64Counter(
		"maestro_ratelimit_rejections_total",
		metric.WithDescription("Requests rejected by the rate limiter"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ratelimit rejections counter: %w", err)
	}

	return m, nil
}
