package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry bundles the meter provider backing /metrics and the pipeline
// instruments created from it.
type Telemetry struct {
	Provider *sdkmetric.MeterProvider
	Handler  http.Handler
	Pipeline *PipelineMetrics
}

// NewPrometheusTelemetry creates an OTel meter provider exported through a
// dedicated Prometheus registry, and installs it as the global provider.
func NewPrometheusTelemetry() (*Telemetry, error) {
	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	pipeline, err := NewPipelineMetrics(provider.Meter("github.com/huangsam/devyear"))
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return &Telemetry{
		Provider: provider,
		Handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Pipeline: pipeline,
	}, nil
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.Provider == nil {
		return nil
	}
	return t.Provider.Shutdown(ctx)
}
