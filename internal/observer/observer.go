// Package observer provides OTEL-based observability for the gateway: spans
// around command handling, counters for dispatches and gate denials, and
// latency histograms for the orchestrator and planner subprocesses. Export
// targets come from standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/aoe-sh/gateway/internal/observer"

// Instruments holds the OTEL instruments the gateway records into. A nil
// *Instruments is valid and records nothing.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	Updates     metric.Int64Counter
	Commands    metric.Int64Counter
	Dispatches  metric.Int64Counter
	GateDenials metric.Int64Counter
	SendFails   metric.Int64Counter

	// Histograms
	HandleDuration  metric.Float64Histogram
	OrchDuration    metric.Float64Histogram
	PlannerDuration metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Returns a shutdown function that must be called on exit.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "aoegw"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceInstanceID(uuid.NewString()),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	updates, err := meter.Int64Counter("gateway.updates",
		metric.WithDescription("Telegram updates received"),
		metric.WithUnit("{update}"))
	if err != nil {
		return nil, err
	}

	commands, err := meter.Int64Counter("gateway.commands",
		metric.WithDescription("Commands handled"),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, err
	}

	dispatches, err := meter.Int64Counter("gateway.dispatches",
		metric.WithDescription("Orchestrator dispatch runs"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	gateDenials, err := meter.Int64Counter("gateway.gate.denials",
		metric.WithDescription("Requests blocked by a gate"),
		metric.WithUnit("{denial}"))
	if err != nil {
		return nil, err
	}

	sendFails, err := meter.Int64Counter("gateway.send.failures",
		metric.WithDescription("Telegram send failures after retries"),
		metric.WithUnit("{failure}"))
	if err != nil {
		return nil, err
	}

	handleDuration, err := meter.Float64Histogram("gateway.handle.duration",
		metric.WithDescription("Update handling duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	orchDuration, err := meter.Float64Histogram("gateway.orch.duration",
		metric.WithDescription("Orchestrator command duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	plannerDuration, err := meter.Float64Histogram("gateway.planner.duration",
		metric.WithDescription("Planner stage duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:          tracer,
		Meter:           meter,
		Logger:          logger,
		Updates:         updates,
		Commands:        commands,
		Dispatches:      dispatches,
		GateDenials:     gateDenials,
		SendFails:       sendFails,
		HandleDuration:  handleDuration,
		OrchDuration:    orchDuration,
		PlannerDuration: plannerDuration,
	}, nil
}
