// Package eventsink persists quality transitions, periodic network
// metrics, and alerts for later review. It is an optional, best-effort
// collaborator: nothing in the control loop waits on it, and under
// backpressure it drops events rather than block.
package eventsink

import (
	"context"
	"time"

	"github.com/ridgeline-av/streamctl/internal/metrics"
	"github.com/ridgeline-av/streamctl/internal/quality"
)

// Transition is a single state-machine transition, as recorded to the
// quality_events table.
type Transition struct {
	Timestamp         time.Time
	From              quality.State
	To                quality.State
	Reason            string
	BandwidthMbps     float64
	PacketLossPercent float64
	RTTMs             float64
}

// Alert is a free-form operator-facing notice, as recorded to the alerts
// table. Level follows the same vocabulary as structured log levels
// ("info", "warn", "error").
type Alert struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// Sink is the persistence interface the control loop depends on. All
// methods must return quickly: an AsyncGormSink enqueues and returns,
// never performing the write itself on the caller's goroutine.
type Sink interface {
	RecordTransition(ctx context.Context, t Transition) error
	RecordMetrics(ctx context.Context, s metrics.AggregatedSample) error
	RecordAlert(ctx context.Context, a Alert) error
	Close(ctx context.Context) error
}

// NullSink discards everything. Used when persistence is disabled.
type NullSink struct{}

func (NullSink) RecordTransition(ctx context.Context, t Transition) error          { return nil }
func (NullSink) RecordMetrics(ctx context.Context, s metrics.AggregatedSample) error { return nil }
func (NullSink) RecordAlert(ctx context.Context, a Alert) error                    { return nil }
func (NullSink) Close(ctx context.Context) error                                   { return nil }

var _ Sink = NullSink{}
