package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the OTLP instruments. Prometheus collectors for the same
// run live in PipelineMetrics.
type Metrics struct {
	rowsLoaded  metric.Int64Counter
	flaggedRows metric.Int64Counter
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				// Shutdown flushes the final run before the process exits.
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the pipeline instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "loanportfolio"
	}
	meter := provider.Meter(name)

	rowsLoaded, err := meter.Int64Counter("loanportfolio_rows_loaded_total")
	if err != nil {
		return nil, err
	}
	flaggedRows, err := meter.Int64Counter("loanportfolio_flagged_rows_total")
	if err != nil {
		return nil, err
	}
	runs, err := meter.Int64Counter("loanportfolio_runs_total")
	if err != nil {
		return nil, err
	}
	runDuration, err := meter.Float64Histogram("loanportfolio_run_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		rowsLoaded:  rowsLoaded,
		flaggedRows: flaggedRows,
		runs:        runs,
		runDuration: runDuration,
	}, nil
}

// RecordRowsLoaded adds parsed and quarantined row counts for one source.
func (m *Metrics) RecordRowsLoaded(ctx context.Context, source string, processed, quarantined int) {
	if m == nil {
		return
	}
	m.rowsLoaded.Add(ctx, int64(processed), metric.WithAttributes(FilterAttributes(
		attribute.String("source", source),
		attribute.String("outcome", "processed"),
	)...))
	m.rowsLoaded.Add(ctx, int64(quarantined), metric.WithAttributes(FilterAttributes(
		attribute.String("source", source),
		attribute.String("outcome", "quarantined"),
	)...))
}

// RecordFlaggedRows counts rows of source carrying at least one violation.
func (m *Metrics) RecordFlaggedRows(ctx context.Context, source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.flaggedRows.Add(ctx, int64(count), metric.WithAttributes(FilterAttributes(attribute.String("source", source))...))
}

// RecordRun counts a finished run and its wall time.
func (m *Metrics) RecordRun(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...)
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source":  {},
	"stage":   {},
	"outcome": {},
	"reason":  {},
	"rule":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// Identifiers such as application_id never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
