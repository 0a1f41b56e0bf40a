package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

var meter = otel.Meter("assistant-core")

// Collector provides metrics collection for the event core: bus throughput,
// debounce decisions, live sessions, and intent routing latency. It
// satisfies the bus and orchestrator recorder interfaces.
type Collector struct {
	eventsPublishedCounter  metric.Int64Counter
	eventsDroppedCounter    metric.Int64Counter
	debounceAdmittedCounter metric.Int64Counter
	debounceRejectedCounter metric.Int64Counter
	sessionsActiveGauge     metric.Int64UpDownCounter
	intentRoutingHistogram  metric.Float64Histogram
}

// NewCollector creates a new metrics collector
func NewCollector() (*Collector, error) {
	eventsPublishedCounter, err := meter.Int64Counter(
		"assistant_core.events.published",
		metric.WithDescription("Total number of events published to the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsDroppedCounter, err := meter.Int64Counter(
		"assistant_core.events.dropped",
		metric.WithDescription("Total number of events dropped by overflowing subscriber queues"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	debounceAdmittedCounter, err := meter.Int64Counter(
		"assistant_core.debounce.admitted",
		metric.WithDescription("Total number of device captures admitted"),
		metric.WithUnit("{capture}"),
	)
	if err != nil {
		return nil, err
	}

	debounceRejectedCounter, err := meter.Int64Counter(
		"assistant_core.debounce.rejected",
		metric.WithDescription("Total number of device captures rejected"),
		metric.WithUnit("{capture}"),
	)
	if err != nil {
		return nil, err
	}

	sessionsActiveGauge, err := meter.Int64UpDownCounter(
		"assistant_core.sessions.active",
		metric.WithDescription("Number of currently connected sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	intentRoutingHistogram, err := meter.Float64Histogram(
		"assistant_core.intent.routing_duration",
		metric.WithDescription("Duration of intent routing in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Collector{
		eventsPublishedCounter:  eventsPublishedCounter,
		eventsDroppedCounter:    eventsDroppedCounter,
		debounceAdmittedCounter: debounceAdmittedCounter,
		debounceRejectedCounter: debounceRejectedCounter,
		sessionsActiveGauge:     sessionsActiveGauge,
		intentRoutingHistogram:  intentRoutingHistogram,
	}, nil
}

// RecordPublished records one event published to a session's stream.
func (c *Collector) RecordPublished(ctx context.Context, sessionID string, eventType events.Type) {
	c.eventsPublishedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("event.type", string(eventType)),
		),
	)
}

// RecordDropped records subscriber-queue overflow drops.
func (c *Collector) RecordDropped(ctx context.Context, sessionID string, dropped int) {
	c.eventsDroppedCounter.Add(ctx, int64(dropped),
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
		),
	)
}

// RecordAdmission records a debounce gate decision.
func (c *Collector) RecordAdmission(ctx context.Context, deviceID string, admitted bool, reason string) {
	if admitted {
		c.debounceAdmittedCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("device.id", deviceID)),
		)
		return
	}
	c.debounceRejectedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("device.id", deviceID),
			attribute.String("reason", reason),
		),
	)
}

// SessionOpened bumps the live session gauge.
func (c *Collector) SessionOpened(ctx context.Context) {
	c.sessionsActiveGauge.Add(ctx, 1)
}

// SessionClosed decrements the live session gauge.
func (c *Collector) SessionClosed(ctx context.Context) {
	c.sessionsActiveGauge.Add(ctx, -1)
}

// RecordIntentRouted records one routed intent and how long routing took.
func (c *Collector) RecordIntentRouted(ctx context.Context, kind string, duration time.Duration) {
	c.intentRoutingHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("intent.kind", kind),
		),
	)
}
