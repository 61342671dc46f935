package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RequestLabels contains metric dimensions.
type RequestLabels struct {
	Route    string
	Provider string
	Model    string
	Status   string
}

func (l RequestLabels) attributes() metric.MeasurementOption {
	attrs := []attribute.KeyValue{attribute.String("status", l.Status)}
	if l.Route != "" {
		attrs = append(attrs, attribute.String("route", l.Route))
	}
	if l.Provider != "" {
		attrs = append(attrs, attribute.String("provider", l.Provider))
	}
	if l.Model != "" {
		attrs = append(attrs, attribute.String("model", l.Model))
	}
	return metric.WithAttributes(attrs...)
}

// Metrics holds the gateway's instruments
type Metrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	tokens   metric.Int64Counter
	cost     metric.Float64Counter
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	requests, err := meter.Int64Counter("gateway.requests",
		metric.WithDescription("Requests handled, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	latency, err := meter.Float64Histogram("gateway.request.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("End-to-end request latency"))
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}
	tokens, err := meter.Int64Counter("gateway.tokens",
		metric.WithDescription("Provider tokens consumed"))
	if err != nil {
		return nil, fmt.Errorf("create tokens counter: %w", err)
	}
	cost, err := meter.Float64Counter("gateway.cost",
		metric.WithUnit("USD"),
		metric.WithDescription("Provider spend"))
	if err != nil {
		return nil, fmt.Errorf("create cost counter: %w", err)
	}
	return &Metrics{requests: requests, latency: latency, tokens: tokens, cost: cost}, nil
}

// RecordRequest counts a request and its latency
func (m *Metrics) RecordRequest(ctx context.Context, labels RequestLabels, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := labels.attributes()
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordUsage adds the tokens and spend of one provider call
func (m *Metrics) RecordUsage(ctx context.Context, labels RequestLabels, input, output int, cost float64) {
	if m == nil {
		return
	}
	base := []attribute.KeyValue{
		attribute.String("provider", labels.Provider),
		attribute.String("model", labels.Model),
	}
	m.tokens.Add(ctx, int64(input), metric.WithAttributes(append(base, attribute.String("direction", "input"))...))
	m.tokens.Add(ctx, int64(output), metric.WithAttributes(append(base, attribute.String("direction", "output"))...))
	m.cost.Add(ctx, cost, metric.WithAttributes(base...))
}
