package fleet

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records agent activity
type Metrics struct {
	cycleDuration metric.Float64Histogram
	cyclesTotal   metric.Int64Counter
	messagesTotal metric.Int64Counter
	reportsTotal  metric.Int64Counter
	connectsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	cycleDuration, err := meter.Float64Histogram(
		"iconograph_agent_update_cycle_duration_seconds",
		metric.WithDescription("Duration of update cycles in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cyclesTotal, err := meter.Int64Counter(
		"iconograph_agent_update_cycles_total",
		metric.WithDescription("Total number of update cycles"),
	)
	if err != nil {
		return nil, err
	}

	messagesTotal, err := meter.Int64Counter(
		"iconograph_agent_messages_total",
		metric.WithDescription("Total number of control messages received"),
	)
	if err != nil {
		return nil, err
	}

	reportsTotal, err := meter.Int64Counter(
		"iconograph_agent_reports_total",
		metric.WithDescription("Total number of reports sent"),
	)
	if err != nil {
		return nil, err
	}

	connectsTotal, err := meter.Int64Counter(
		"iconograph_agent_connects_total",
		metric.WithDescription("Total number of control channel connection attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cycleDuration: cycleDuration,
		cyclesTotal:   cyclesTotal,
		messagesTotal: messagesTotal,
		reportsTotal:  reportsTotal,
		connectsTotal: connectsTotal,
	}, nil
}

// RecordCycle records a completed update cycle
func (m *Metrics) RecordCycle(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.cycleDuration.Record(ctx, duration.Seconds(), attrs)
	m.cyclesTotal.Add(ctx, 1, attrs)
}

// RecordMessage counts an inbound frame
func (m *Metrics) RecordMessage(ctx context.Context, msgType MessageType) {
	m.messagesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(msgType))))
}

// RecordReport counts a sent report
func (m *Metrics) RecordReport(ctx context.Context) {
	m.reportsTotal.Add(ctx, 1)
}

// RecordConnect counts a dial attempt
func (m *Metrics) RecordConnect(ctx context.Context, status string) {
	m.connectsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
