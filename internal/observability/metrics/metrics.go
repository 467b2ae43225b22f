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

// Metrics exposes application-level instruments.
type Metrics struct {
	grantsIssued     metric.Int64Counter
	creditsGranted   metric.Int64Counter
	creditsConsumed  metric.Int64Counter
	consumeRejected  metric.Int64Counter
	creditsForfeited metric.Int64Counter
	ledgerDesyncs    metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditledger"
	}
	meter := provider.Meter(name)

	grantsIssued, err := meter.Int64Counter("creditledger_grants_issued_total")
	if err != nil {
		return nil, err
	}
	creditsGranted, err := meter.Int64Counter("creditledger_credits_granted_total")
	if err != nil {
		return nil, err
	}
	creditsConsumed, err := meter.Int64Counter("creditledger_credits_consumed_total")
	if err != nil {
		return nil, err
	}
	consumeRejected, err := meter.Int64Counter("creditledger_consume_rejected_total")
	if err != nil {
		return nil, err
	}
	creditsForfeited, err := meter.Int64Counter("creditledger_credits_forfeited_total")
	if err != nil {
		return nil, err
	}
	ledgerDesyncs, err := meter.Int64Counter("creditledger_ledger_desync_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		grantsIssued:     grantsIssued,
		creditsGranted:   creditsGranted,
		creditsConsumed:  creditsConsumed,
		consumeRejected:  consumeRejected,
		creditsForfeited: creditsForfeited,
		ledgerDesyncs:    ledgerDesyncs,
	}, nil
}

// RecordGrant increments grant counts and granted credit volume.
func (m *Metrics) RecordGrant(ctx context.Context, sourceType string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.grantsIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.creditsGranted.Add(ctx, amount, metric.WithAttributes(attrs...))
}

// RecordConsume increments consumed credit volume.
func (m *Metrics) RecordConsume(ctx context.Context, feature string, cost int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature", strings.TrimSpace(feature)))
	m.creditsConsumed.Add(ctx, cost, metric.WithAttributes(attrs...))
}

// RecordConsumeRejected increments rejected consumption counts.
func (m *Metrics) RecordConsumeRejected(ctx context.Context, feature, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature", strings.TrimSpace(feature)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.consumeRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordForfeiture increments forfeited credit volume from the expiry sweep.
func (m *Metrics) RecordForfeiture(ctx context.Context, credits int64) {
	if m == nil {
		return
	}
	m.creditsForfeited.Add(ctx, credits)
}

// RecordLedgerDesync counts detected cache/ledger divergences.
func (m *Metrics) RecordLedgerDesync(ctx context.Context) {
	if m == nil {
		return
	}
	m.ledgerDesyncs.Add(ctx, 1)
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source_type": {},
	"feature":     {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
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
