package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StageTimer records how long each cycle stage takes.
type StageTimer struct {
	hist metric.Float64Histogram
}

// NewStageTimer registers the stage histogram on the global meter provider.
func NewStageTimer() (*StageTimer, error) {
	hist, err := otel.Meter(InstrumentationName).Float64Histogram(
		"invite_crawler.cycle.stage.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of each cycle stage."),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage histogram: %w", err)
	}
	return &StageTimer{hist: hist}, nil
}

// Record observes d for stage. A nil timer drops the observation.
func (t *StageTimer) Record(ctx context.Context, stage string, d time.Duration) {
	if t == nil {
		return
	}
	t.hist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
