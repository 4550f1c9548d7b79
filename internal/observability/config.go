package observability

import "fmt"

// Config groups the metrics and tracing settings.
type Config struct {
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "concopilot",
			ServiceVersion: "dev",
		},
	}
}

// Validate rejects settings the providers cannot honour.
func (c Config) Validate() error {
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "zipkin":
		default:
			return fmt.Errorf("unsupported tracing exporter %q", c.Tracing.Exporter)
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate)
	}
	return nil
}
