package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ConCopilot/concopilot/internal/shared/logging"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "github.com/ConCopilot/concopilot"

// Provider owns the meter and tracer providers installed for one process.
type Provider struct {
	registry      *promclient.Registry
	meterProvider *sdkmetric.MeterProvider
	tracer        *TracerProvider
	server        *http.Server
	logger        logging.Logger
}

// Install builds the providers described by cfg and registers them as the
// OpenTelemetry globals.
func Install(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{
		registry: promclient.NewRegistry(),
		logger:   logging.NewComponentLogger("observability"),
	}

	if cfg.Metrics.Enabled {
		exporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		otel.SetMeterProvider(p.meterProvider)
	}

	tracer, err := NewTracerProvider(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	p.tracer = tracer

	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		if err := p.serve(cfg.Metrics.Address); err != nil {
			_ = p.Shutdown(context.Background())
			return nil, err
		}
	}
	return p, nil
}

// Meter returns a meter from the installed provider, or a no-op meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil || p.meterProvider == nil {
		return noop.NewMeterProvider().Meter(instrumentationName)
	}
	return p.meterProvider.Meter(instrumentationName)
}

// Tracer returns the tracer provider wrapper.
func (p *Provider) Tracer() *TracerProvider {
	if p == nil || p.tracer == nil {
		return noopTracerProvider()
	}
	return p.tracer
}

// Handler serves the OpenTelemetry metrics together with the collectors
// registered on the default Prometheus registry.
func (p *Provider) Handler() http.Handler {
	gatherers := promclient.Gatherers{promclient.DefaultGatherer}
	if p != nil && p.registry != nil {
		gatherers = append(gatherers, p.registry)
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

func (p *Provider) serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		p.logger.Info("Prometheus metrics server listening on %s", listener.Addr())
		if err := p.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("Prometheus server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the metrics listener and flushes both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.server != nil {
		errs = append(errs, p.server.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	if p.tracer != nil {
		errs = append(errs, p.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
