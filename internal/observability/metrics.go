package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"` // empty disables the standalone /metrics listener
}

// Metrics records LLM, plugin and interaction activity.
type Metrics struct {
	llmRequests     metric.Int64Counter
	llmTokensInput  metric.Int64Counter
	llmTokensOutput metric.Int64Counter
	llmLatency      metric.Float64Histogram
	llmCost         metric.Float64Counter

	pluginCommands metric.Int64Counter
	pluginDuration metric.Float64Histogram

	interactionTurns metric.Int64Counter
	copilotsActive   metric.Int64UpDownCounter
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider. They
// are no-ops until Install sets a real provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter(instrumentationName))
		if err != nil {
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.llmRequests, err = meter.Int64Counter(
		"concopilot.llm.requests.total",
		metric.WithDescription("Total number of LLM inference calls"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm_requests counter: %w", err)
	}
	if m.llmTokensInput, err = meter.Int64Counter(
		"concopilot.llm.tokens.input",
		metric.WithDescription("Total input tokens sent to LLM"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm_tokens_input counter: %w", err)
	}
	if m.llmTokensOutput, err = meter.Int64Counter(
		"concopilot.llm.tokens.output",
		metric.WithDescription("Total output tokens from LLM"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm_tokens_output counter: %w", err)
	}
	if m.llmLatency, err = meter.Float64Histogram(
		"concopilot.llm.latency",
		metric.WithDescription("LLM request latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm_latency histogram: %w", err)
	}
	if m.llmCost, err = meter.Float64Counter(
		"concopilot.llm.cost.total",
		metric.WithDescription("Total cost reported by LLM resources"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm_cost counter: %w", err)
	}
	if m.pluginCommands, err = meter.Int64Counter(
		"concopilot.plugin.commands.total",
		metric.WithDescription("Total number of plugin commands executed"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create plugin_commands counter: %w", err)
	}
	if m.pluginDuration, err = meter.Float64Histogram(
		"concopilot.plugin.duration",
		metric.WithDescription("Plugin command duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create plugin_duration histogram: %w", err)
	}
	if m.interactionTurns, err = meter.Int64Counter(
		"concopilot.interaction.turns.total",
		metric.WithDescription("Interaction loop iterations by outcome"),
		metric.WithUnit("{turn}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create interaction_turns counter: %w", err)
	}
	if m.copilotsActive, err = meter.Int64UpDownCounter(
		"concopilot.copilots.active",
		metric.WithDescription("Number of running copilots"),
		metric.WithUnit("{copilot}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create copilots_active gauge: %w", err)
	}
	return &m, nil
}

// RecordLLMRequest records one inference call. Token counts and cost are
// skipped when the resource did not report them.
func (m *Metrics) RecordLLMRequest(ctx context.Context, model, status string, latency time.Duration, inputTokens, outputTokens *int, cost *float64) {
	if m == nil || m.llmRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("status", status),
	}
	modelAttr := metric.WithAttributes(attribute.String("model", model))

	m.llmRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.llmLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
	if inputTokens != nil {
		m.llmTokensInput.Add(ctx, int64(*inputTokens), modelAttr)
	}
	if outputTokens != nil {
		m.llmTokensOutput.Add(ctx, int64(*outputTokens), modelAttr)
	}
	if cost != nil && *cost > 0 {
		m.llmCost.Add(ctx, *cost, modelAttr)
	}
}

// RecordPluginCommand records a plugin command execution
func (m *Metrics) RecordPluginCommand(ctx context.Context, plugin, command, status string, duration time.Duration) {
	if m == nil || m.pluginCommands == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("plugin", plugin),
		attribute.String("command", command),
		attribute.String("status", status),
	}
	m.pluginCommands.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.pluginDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("plugin", plugin)))
}

// RecordTurn counts one interaction loop iteration.
func (m *Metrics) RecordTurn(ctx context.Context, interactor, outcome string) {
	if m == nil || m.interactionTurns == nil {
		return
	}
	m.interactionTurns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("interactor", interactor),
		attribute.String("outcome", outcome),
	))
}

// CopilotStarted increments the running copilot gauge.
func (m *Metrics) CopilotStarted(ctx context.Context) {
	if m == nil || m.copilotsActive == nil {
		return
	}
	m.copilotsActive.Add(ctx, 1)
}

// CopilotStopped decrements the running copilot gauge.
func (m *Metrics) CopilotStopped(ctx context.Context) {
	if m == nil || m.copilotsActive == nil {
		return
	}
	m.copilotsActive.Add(ctx, -1)
}

// Status maps an error to the status label used by the counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
