package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/exllm/exllm/pkg/pipeline"
)

// OTelConfig configures the OTLP exporters. Protocol selects the wire
// per deployment convention: "grpc" (default, port 4317) or "http"
// (port 4318).
type OTelConfig struct {
	Endpoint    string
	Protocol    string // "grpc" or "http"
	Insecure    bool
	ServiceName string

	Traces  bool
	Metrics bool
	Logs    bool

	ExportInterval time.Duration // metric export cadence, default 15s
}

// DefaultOTelConfig enables all three signals against a local collector.
func DefaultOTelConfig() OTelConfig {
	return OTelConfig{
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		Insecure:       true,
		ServiceName:    "exllm",
		Traces:         true,
		Metrics:        true,
		Logs:           true,
		ExportInterval: 15 * time.Second,
	}
}

// OTelSink exports one span, one metric sample set, and one log record
// per finished request.
type OTelSink struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider

	tracer trace.Tracer
	logger otellog.Logger

	requests      metric.Int64Counter
	inputTokens   metric.Int64Counter
	outputTokens  metric.Int64Counter
	costUSD       metric.Float64Counter
	durationMilli metric.Int64Histogram
}

// NewOTelSink builds the configured providers and instruments.
func NewOTelSink(ctx context.Context, cfg OTelConfig) (*OTelSink, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	s := &OTelSink{}

	if cfg.Traces {
		exporter, err := newTraceExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		s.tracer = s.tracerProvider.Tracer("exllm")
	}

	if cfg.Metrics {
		exporter, err := newMetricExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		s.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		meter := s.meterProvider.Meter("exllm")
		if s.requests, err = meter.Int64Counter("gen_ai.client.requests"); err != nil {
			return nil, err
		}
		if s.inputTokens, err = meter.Int64Counter("gen_ai.client.input_tokens"); err != nil {
			return nil, err
		}
		if s.outputTokens, err = meter.Int64Counter("gen_ai.client.output_tokens"); err != nil {
			return nil, err
		}
		if s.costUSD, err = meter.Float64Counter("gen_ai.client.cost_usd"); err != nil {
			return nil, err
		}
		if s.durationMilli, err = meter.Int64Histogram("gen_ai.client.duration_ms"); err != nil {
			return nil, err
		}
	}

	if cfg.Logs {
		exporter, err := newLogExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
			sdklog.WithResource(res),
		)
		s.logger = s.loggerProvider.Logger("exllm")
	}

	return s, nil
}

func newTraceExporter(ctx context.Context, cfg OTelConfig) (*otlptrace.Exporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newMetricExporter(ctx context.Context, cfg OTelConfig) (sdkmetric.Exporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func newLogExporter(ctx context.Context, cfg OTelConfig) (sdklog.Exporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, opts...)
	}
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	return otlploggrpc.New(ctx, opts...)
}

// OnRequestEnd implements Sink.
func (s *OTelSink) OnRequestEnd(ctx context.Context, req *pipeline.Request) {
	input, output, _ := usageOf(req)
	model := ""
	if req.Result != nil {
		model = req.Result.Model
	}
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.system", req.Provider),
		attribute.String("gen_ai.request.model", model),
		attribute.String("exllm.outcome", outcomeOf(req)),
	}

	if s.tracer != nil {
		start := time.Now()
		if st, ok := req.Metadata["start_time"].(time.Time); ok {
			start = st
		}
		_, span := s.tracer.Start(ctx, "exllm.request",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithTimestamp(start),
			trace.WithAttributes(attrs...))
		span.SetAttributes(
			attribute.Int("gen_ai.usage.input_tokens", input),
			attribute.Int("gen_ai.usage.output_tokens", output),
		)
		span.End()
	}

	if s.requests != nil {
		set := metric.WithAttributes(attrs...)
		s.requests.Add(ctx, 1, set)
		s.inputTokens.Add(ctx, int64(input), set)
		s.outputTokens.Add(ctx, int64(output), set)
		s.costUSD.Add(ctx, costOf(req), set)
		s.durationMilli.Record(ctx, durationMsOf(req), set)
	}

	if s.logger != nil {
		var rec otellog.Record
		rec.SetBody(otellog.StringValue("request finished"))
		rec.SetSeverity(otellog.SeverityInfo)
		rec.AddAttributes(
			otellog.String("request_id", req.ID),
			otellog.String("provider", req.Provider),
			otellog.String("outcome", outcomeOf(req)),
		)
		s.logger.Emit(ctx, rec)
	}
}

// Close flushes and shuts down all providers.
func (s *OTelSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var firstErr error
	if s.tracerProvider != nil {
		if err := s.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.meterProvider != nil {
		if err := s.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.loggerProvider != nil {
		if err := s.loggerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
