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

// Metrics exposes engine-level instruments.
type Metrics struct {
	documentsIssued     metric.Int64Counter
	allocationConflicts metric.Int64Counter
	submissions         metric.Int64Counter
	closings            metric.Int64Counter
	chainBreaks         metric.Int64Counter
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
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the engine metric instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "verifactu"
	}
	meter := provider.Meter(name)

	documentsIssued, err := meter.Int64Counter("verifactu_documents_issued_total")
	if err != nil {
		return nil, err
	}
	allocationConflicts, err := meter.Int64Counter("verifactu_allocation_conflicts_total")
	if err != nil {
		return nil, err
	}
	submissions, err := meter.Int64Counter("verifactu_submissions_total")
	if err != nil {
		return nil, err
	}
	closings, err := meter.Int64Counter("verifactu_closings_total")
	if err != nil {
		return nil, err
	}
	chainBreaks, err := meter.Int64Counter("verifactu_chain_breaks_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		documentsIssued:     documentsIssued,
		allocationConflicts: allocationConflicts,
		submissions:         submissions,
		closings:            closings,
		chainBreaks:         chainBreaks,
	}, nil
}

// RecordDocumentIssued increments issued document counts.
func (m *Metrics) RecordDocumentIssued(ctx context.Context, docType string) {
	if m == nil {
		return
	}
	m.documentsIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("document_type", strings.TrimSpace(docType)),
	))
}

// RecordAllocationConflict increments sequence allocation conflict counts.
func (m *Metrics) RecordAllocationConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.allocationConflicts.Add(ctx, 1)
}

// RecordSubmission increments submission counts by outcome.
func (m *Metrics) RecordSubmission(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", strings.TrimSpace(status)),
	))
}

// RecordClosing increments closing counts by action (close/reopen).
func (m *Metrics) RecordClosing(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.closings.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", strings.TrimSpace(action)),
	))
}

// RecordChainBreak increments detected chain integrity failures.
func (m *Metrics) RecordChainBreak(ctx context.Context, seriesCode string) {
	if m == nil {
		return
	}
	m.chainBreaks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("series_code", strings.TrimSpace(seriesCode)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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
