package mms

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/nemomobile/mms"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the engine.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	// Notification registration
	notificationLatency metric.Float64Histogram
	notificationCount   metric.Int64Counter
	notificationErrors  metric.Int64Counter

	// Inbound completion
	receiveLatency metric.Float64Histogram
	receiveCount   metric.Int64Counter
	receiveErrors  metric.Int64Counter

	// Outbound send
	sendLatency metric.Float64Histogram
	sendCount   metric.Int64Counter
	sendErrors  metric.Int64Counter

	// Transfer state changes
	stateLatency metric.Float64Histogram
	stateCount   metric.Int64Counter
	stateErrors  metric.Int64Counter

	// Delivery and read reports
	reportLatency metric.Float64Histogram
	reportCount   metric.Int64Counter
	reportErrors  metric.Int64Counter

	// Part materialization
	materializeLatency metric.Float64Histogram
	materializeErrors  metric.Int64Counter

	// Policy cancellations
	cancelCount metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	// Initialize tracer
	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	// Initialize metrics
	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	// Notification metrics
	o.notificationLatency, err = meter.Float64Histogram(
		"mms.notification.duration",
		metric.WithDescription("Duration of notification registrations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.notificationCount, err = meter.Int64Counter(
		"mms.notification.count",
		metric.WithDescription("Number of notifications registered"),
	)
	if err != nil {
		return err
	}

	o.notificationErrors, err = meter.Int64Counter(
		"mms.notification.errors",
		metric.WithDescription("Number of notification registration errors"),
	)
	if err != nil {
		return err
	}

	// Receive metrics
	o.receiveLatency, err = meter.Float64Histogram(
		"mms.receive.duration",
		metric.WithDescription("Duration of inbound message completions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.receiveCount, err = meter.Int64Counter(
		"mms.receive.count",
		metric.WithDescription("Number of inbound messages completed"),
	)
	if err != nil {
		return err
	}

	o.receiveErrors, err = meter.Int64Counter(
		"mms.receive.errors",
		metric.WithDescription("Number of inbound completion errors"),
	)
	if err != nil {
		return err
	}

	// Send metrics
	o.sendLatency, err = meter.Float64Histogram(
		"mms.send.duration",
		metric.WithDescription("Duration of send operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.sendCount, err = meter.Int64Counter(
		"mms.send.count",
		metric.WithDescription("Number of messages sent"),
	)
	if err != nil {
		return err
	}

	o.sendErrors, err = meter.Int64Counter(
		"mms.send.errors",
		metric.WithDescription("Number of send errors"),
	)
	if err != nil {
		return err
	}

	// State change metrics
	o.stateLatency, err = meter.Float64Histogram(
		"mms.state.duration",
		metric.WithDescription("Duration of transfer state changes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.stateCount, err = meter.Int64Counter(
		"mms.state.count",
		metric.WithDescription("Number of transfer state changes"),
	)
	if err != nil {
		return err
	}

	o.stateErrors, err = meter.Int64Counter(
		"mms.state.errors",
		metric.WithDescription("Number of transfer state change errors"),
	)
	if err != nil {
		return err
	}

	// Report metrics
	o.reportLatency, err = meter.Float64Histogram(
		"mms.report.duration",
		metric.WithDescription("Duration of delivery and read report handling"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.reportCount, err = meter.Int64Counter(
		"mms.report.count",
		metric.WithDescription("Number of delivery and read reports handled"),
	)
	if err != nil {
		return err
	}

	o.reportErrors, err = meter.Int64Counter(
		"mms.report.errors",
		metric.WithDescription("Number of report handling errors"),
	)
	if err != nil {
		return err
	}

	// Materialization metrics
	o.materializeLatency, err = meter.Float64Histogram(
		"mms.materialize.duration",
		metric.WithDescription("Duration of part materialization"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.materializeErrors, err = meter.Int64Counter(
		"mms.materialize.errors",
		metric.WithDescription("Number of part materialization failures"),
	)
	if err != nil {
		return err
	}

	// Cancellation metrics
	o.cancelCount, err = meter.Int64Counter(
		"mms.cancel.count",
		metric.WithDescription("Number of transfers cancelled by policy"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Caller should call the returned func with the operation error when done.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordNotification records notification registration metrics.
func (o *otelInstrumentation) recordNotification(ctx context.Context, duration time.Duration, manual bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("manual", manual),
	)

	o.notificationLatency.Record(ctx, duration.Seconds(), attrs)
	o.notificationCount.Add(ctx, 1, attrs)
	if err != nil {
		o.notificationErrors.Add(ctx, 1, attrs)
	}
}

// recordReceive records inbound completion metrics.
func (o *otelInstrumentation) recordReceive(ctx context.Context, duration time.Duration, partCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("part_count", partCount),
	)

	o.receiveLatency.Record(ctx, duration.Seconds(), attrs)
	o.receiveCount.Add(ctx, 1, attrs)
	if err != nil {
		o.receiveErrors.Add(ctx, 1, attrs)
	}
}

// recordSend records send operation metrics.
func (o *otelInstrumentation) recordSend(ctx context.Context, duration time.Duration, recipientCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("recipient_count", recipientCount),
	)

	o.sendLatency.Record(ctx, duration.Seconds(), attrs)
	o.sendCount.Add(ctx, 1, attrs)
	if err != nil {
		o.sendErrors.Add(ctx, 1, attrs)
	}
}

// recordState records transfer state change metrics.
func (o *otelInstrumentation) recordState(ctx context.Context, duration time.Duration, direction string, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("direction", direction),
	)

	o.stateLatency.Record(ctx, duration.Seconds(), attrs)
	o.stateCount.Add(ctx, 1, attrs)
	if err != nil {
		o.stateErrors.Add(ctx, 1, attrs)
	}
}

// recordReport records delivery and read report metrics.
func (o *otelInstrumentation) recordReport(ctx context.Context, duration time.Duration, kind string, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
	)

	o.reportLatency.Record(ctx, duration.Seconds(), attrs)
	o.reportCount.Add(ctx, 1, attrs)
	if err != nil {
		o.reportErrors.Add(ctx, 1, attrs)
	}
}

// recordMaterialize records part materialization metrics.
func (o *otelInstrumentation) recordMaterialize(ctx context.Context, duration time.Duration, partCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("part_count", partCount),
	)

	o.materializeLatency.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		o.materializeErrors.Add(ctx, 1, attrs)
	}
}

// recordCancel records the number of transfers cancelled by a policy change.
func (o *otelInstrumentation) recordCancel(ctx context.Context, count int) {
	if !o.metricsEnabled {
		return
	}

	o.cancelCount.Add(ctx, int64(count))
}
