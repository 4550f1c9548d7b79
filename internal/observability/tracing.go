package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures distributed tracing
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter       string  `mapstructure:"exporter" yaml:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint" yaml:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate" yaml:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version"`
}

// TracerProvider wraps OpenTelemetry tracer
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

func noopTracerProvider() *TracerProvider {
	return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
}

// NewTracerProvider creates a new tracer provider
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return noopTracerProvider(), nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "concopilot"
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch config.Exporter {
	case "otlp":
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
	}, nil
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartSpan starts a span on the global tracer provider, so callers work
// whether or not Install ran.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Common span names
const (
	SpanInteractionTurn  = "concopilot.interactor.turn"
	SpanCerebrumInteract = "concopilot.cerebrum.interact"
	SpanLLMInference     = "concopilot.llm.inference"
	SpanPluginCommand    = "concopilot.plugin.command"
	SpanRegistryCreate   = "concopilot.registry.create"
	SpanRepositoryFetch  = "concopilot.repository.fetch"
)

// Common attribute keys
const (
	AttrInteractor   = "concopilot.interactor"
	AttrPlugin       = "concopilot.plugin"
	AttrCommand      = "concopilot.command"
	AttrModel        = "concopilot.llm.model"
	AttrInputTokens  = "concopilot.llm.input_tokens"
	AttrOutputTokens = "concopilot.llm.output_tokens"
	AttrCost         = "concopilot.cost"
	AttrArtifact     = "concopilot.artifact"
)

// TurnAttrs names the interactor running a turn.
func TurnAttrs(interactor string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(AttrInteractor, interactor)}
}

// PluginAttrs creates plugin command attributes
func PluginAttrs(plugin, command string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPlugin, plugin),
		attribute.String(AttrCommand, command),
	}
}

// LLMAttrs creates LLM attributes; unreported counts are omitted.
func LLMAttrs(model string, inputTokens, outputTokens *int, cost *float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrModel, model)}
	if inputTokens != nil {
		attrs = append(attrs, attribute.Int(AttrInputTokens, *inputTokens))
	}
	if outputTokens != nil {
		attrs = append(attrs, attribute.Int(AttrOutputTokens, *outputTokens))
	}
	if cost != nil && *cost > 0 {
		attrs = append(attrs, attribute.Float64(AttrCost, *cost))
	}
	return attrs
}

// ArtifactAttrs identifies a component package.
func ArtifactAttrs(groupID, artifactID, version string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrArtifact, groupID+"/"+artifactID+"/"+version),
	}
}
