package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const cycleScopeName = "github.com/soulseed/acectl/cycle"

// CycleMetrics counts what happens to awareness cycle runs: how many were
// triggered, how they ended, and how often the progress stream misbehaved.
// The zero value is unusable; NewCycleMetrics returns a no-op-backed
// instance when telemetry is disabled (the otel noop meter absorbs all
// recordings), so callers never need to nil-check.
type CycleMetrics struct {
	triggered     metric.Int64Counter
	completed     metric.Int64Counter
	failed        metric.Int64Counter
	reconnects    metric.Int64Counter
	heartbeats    metric.Int64Counter
	verifications metric.Int64Counter
	duration      metric.Float64Histogram
}

// NewCycleMetrics registers the acectl cycle instruments.
func NewCycleMetrics() *CycleMetrics {
	m := Meter(cycleScopeName)
	triggered, _ := m.Int64Counter("ace.cycle.triggered",
		metric.WithDescription("Awareness cycles submitted to the backend"),
	)
	completed, _ := m.Int64Counter("ace.cycle.completed",
		metric.WithDescription("Cycles observed reaching a terminal completed state"),
	)
	failed, _ := m.Int64Counter("ace.cycle.failed",
		metric.WithDescription("Cycles that ended failed, timed out, or unverifiable"),
	)
	reconnects, _ := m.Int64Counter("ace.stream.reconnects",
		metric.WithDescription("Progress stream reconnect attempts"),
	)
	heartbeats, _ := m.Int64Counter("ace.stream.heartbeat_timeouts",
		metric.WithDescription("Heartbeat watchdog expirations forcing a stream reopen"),
	)
	verifications, _ := m.Int64Counter("ace.cycle.verifications",
		metric.WithDescription("Authoritative snapshot polls after an ambiguous stream drop"),
	)
	duration, _ := m.Float64Histogram("ace.cycle.duration",
		metric.WithDescription("Wall time from trigger submit to terminal outcome in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &CycleMetrics{
		triggered:     triggered,
		completed:     completed,
		failed:        failed,
		reconnects:    reconnects,
		heartbeats:    heartbeats,
		verifications: verifications,
		duration:      duration,
	}
}

func (c *CycleMetrics) RecordTriggered(ctx context.Context, tenant string) {
	if c == nil {
		return
	}
	c.triggered.Add(ctx, 1, metric.WithAttributes(attribute.String("ace.tenant", tenant)))
}

// RecordOutcome records a terminal state and the wall time it took to reach it.
func (c *CycleMetrics) RecordOutcome(ctx context.Context, status string, start time.Time, failed bool) {
	if c == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("ace.cycle.status", status))
	if failed {
		c.failed.Add(ctx, 1, attrs)
	} else {
		c.completed.Add(ctx, 1, attrs)
	}
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}

func (c *CycleMetrics) RecordReconnect(ctx context.Context) {
	if c == nil {
		return
	}
	c.reconnects.Add(ctx, 1)
}

func (c *CycleMetrics) RecordHeartbeatTimeout(ctx context.Context) {
	if c == nil {
		return
	}
	c.heartbeats.Add(ctx, 1)
}

func (c *CycleMetrics) RecordVerification(ctx context.Context, resolved string) {
	if c == nil {
		return
	}
	c.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("ace.verify.result", resolved)))
}
