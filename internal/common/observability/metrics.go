package observability

import (
	"context"
	"log"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Config struct {
	ServiceName    string
	JaegerEndpoint string
	// Registerer defaults to the global Prometheus registry.
	Registerer promclient.Registerer
}

type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	cycleCounter   otelmetric.Int64Counter
	cycleDuration  otelmetric.Float64Histogram
	userCounter    otelmetric.Int64Counter
}

// New builds meter and tracer providers. Exporter failures degrade to a
// working no-op instance.
func New(cfg Config) *Observability {
	o := &Observability{tracer: noop.NewTracerProvider().Tracer(cfg.ServiceName)}

	opts := []prometheus.Option{}
	if cfg.Registerer != nil {
		opts = append(opts, prometheus.WithRegisterer(cfg.Registerer))
	}
	exporter, err := prometheus.New(opts...)
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
	} else {
		o.meterProvider = metric.NewMeterProvider(metric.WithReader(exporter))
		otel.SetMeterProvider(o.meterProvider)
		meter := o.meterProvider.Meter(cfg.ServiceName)

		o.cycleCounter, _ = meter.Int64Counter(
			"billing.cycles",
			otelmetric.WithDescription("Number of billing cycles run"),
		)
		o.cycleDuration, _ = meter.Float64Histogram(
			"billing.cycle.duration",
			otelmetric.WithDescription("Billing cycle duration"),
			otelmetric.WithUnit("ms"),
		)
		o.userCounter, _ = meter.Int64Counter(
			"billing.users.processed",
			otelmetric.WithDescription("Number of subscriptions processed by the scheduler"),
		)
	}

	if cfg.JaegerEndpoint != "" {
		traceExporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
		if err != nil {
			log.Printf("Failed to create Jaeger exporter: %v", err)
		} else {
			o.tracerProvider = sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(traceExporter),
				sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
			)
			otel.SetTracerProvider(o.tracerProvider)
			o.tracer = o.tracerProvider.Tracer(cfg.ServiceName)
		}
	}

	return o
}

// StartSpan starts a span; without a Jaeger endpoint it is a no-op span.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordCycle(ctx context.Context, duration time.Duration, outcome string) {
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	if o.cycleCounter != nil {
		o.cycleCounter.Add(ctx, 1, attrs)
	}
	if o.cycleDuration != nil {
		o.cycleDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) RecordUserProcessed(ctx context.Context, outcome string) {
	if o.userCounter != nil {
		o.userCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (o *Observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.meterProvider != nil {
		o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		o.tracerProvider.Shutdown(ctx)
	}
}
