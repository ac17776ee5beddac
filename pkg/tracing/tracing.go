package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "callcore"

// TracerProvider wraps the OpenTelemetry SDK provider so callers can shut
// it down without importing the SDK.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "callcore",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  0.1,
	}
}

// Init installs a Jaeger-backed global tracer provider. When disabled the
// global no-op provider stays in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// RecordError marks the span in ctx as failed. Nil errors are ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

var (
	SessionIDKey   = attribute.Key("call.session_id")
	PeerIDKey      = attribute.Key("call.peer_id")
	RoleKey        = attribute.Key("call.link_role")
	InitiatorKey   = attribute.Key("call.initiator")
	CaptureTierKey = attribute.Key("media.capture_tier")
	ICESourceKey   = attribute.Key("ice.config_source")
	MessageTypeKey = attribute.Key("signaling.message_type")
)

func TraceMatch(ctx context.Context, sessionID, peerID string, initiator bool) (context.Context, trace.Span) {
	return StartSpan(ctx, "call.match",
		trace.WithAttributes(
			SessionIDKey.String(sessionID),
			PeerIDKey.String(peerID),
			InitiatorKey.Bool(initiator),
		),
	)
}

func TraceMediaAcquire(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "media.acquire", trace.WithAttributes(SessionIDKey.String(sessionID)))
}

func TraceICEConfig(ctx context.Context, source string) (context.Context, trace.Span) {
	return StartSpan(ctx, "webrtc.ice_config", trace.WithAttributes(ICESourceKey.String(source)))
}

func TraceSignalingMessage(ctx context.Context, messageType string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("signaling.%s", messageType),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(MessageTypeKey.String(messageType)),
	)
}
