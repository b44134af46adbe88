package pubsub

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig holds configuration for OpenTelemetry tracing of the event bus.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	ZipkinURL   string
}

// DefaultTracingConfig returns the default (disabled) tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		ServiceName: "pulsepal-realtime",
		ZipkinURL:   "http://localhost:9411/api/v2/spans",
	}
}

// SetupOTel initializes OpenTelemetry with a Zipkin exporter for bus
// observability. If config.Enabled is false, a no-op tracer is returned.
func SetupOTel(ctx context.Context, config TracingConfig) (trace.Tracer, func(), error) {
	if !config.Enabled {
		tracer := noop.NewTracerProvider().Tracer("pulsepal-pubsub")
		return tracer, func() {}, nil
	}

	exporter, err := zipkin.New(config.ZipkinURL)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(ctx); err != nil {
			panic(err)
		}
	}

	return tp.Tracer("pulsepal-pubsub"), cleanup, nil
}

// TracedPublisher wraps a Publisher so every event published to the bus is
// recorded as a span, including topic, room and payload size.
type TracedPublisher struct {
	inner  Publisher
	tracer trace.Tracer
}

// NewTracedPublisher wraps the given publisher with tracing.
func NewTracedPublisher(inner Publisher, tracer trace.Tracer) *TracedPublisher {
	return &TracedPublisher{inner: inner, tracer: tracer}
}

// Publish implements the Publisher interface.
func (p *TracedPublisher) Publish(ctx context.Context, msg Message) error {
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("pubsub.publish.%s", msg.Topic),
		trace.WithAttributes(
			attribute.String("messaging.system", "watermill"),
			attribute.String("messaging.operation", "publish"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("chat.room_id", msg.RoomID),
			attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
		),
	)
	defer span.End()

	err := p.inner.Publish(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Close closes the underlying publisher.
func (p *TracedPublisher) Close() error {
	return p.inner.Close()
}

// TracedBus wraps a Bus so every publish is recorded as a span. Subscriptions
// pass through untouched. Close tears down the inner bus and then the tracer
// provider.
type TracedBus struct {
	pub     *TracedPublisher
	inner   Bus
	cleanup func()
}

// NewTracedBus wraps the given bus with publish tracing.
func NewTracedBus(inner Bus, tracer trace.Tracer, cleanup func()) *TracedBus {
	if cleanup == nil {
		cleanup = func() {}
	}
	return &TracedBus{
		pub:     NewTracedPublisher(inner, tracer),
		inner:   inner,
		cleanup: cleanup,
	}
}

// Publish implements the Publisher interface.
func (b *TracedBus) Publish(ctx context.Context, msg Message) error {
	return b.pub.Publish(ctx, msg)
}

// Subscribe implements the Subscriber interface.
func (b *TracedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close shuts down the bus and flushes any pending spans.
func (b *TracedBus) Close() error {
	err := b.inner.Close()
	b.cleanup()
	return err
}
