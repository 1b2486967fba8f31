package controlloop

import (
	"context"
	"testing"
	"time"

	"github.com/ridgeline-av/streamctl/internal/aggregator"
	"github.com/ridgeline-av/streamctl/internal/broadcast"
	"github.com/ridgeline-av/streamctl/internal/clock"
	"github.com/ridgeline-av/streamctl/internal/metrics"
	"github.com/ridgeline-av/streamctl/internal/quality"
	"github.com/ridgeline-av/streamctl/internal/retry"
	"github.com/ridgeline-av/streamctl/internal/statemachine"
	"github.com/ridgeline-av/streamctl/internal/transport"
)

// fakeFeeder hands back a fixed sample, simulating a bonded-transport
// feeder whose latest-write-wins slot was already populated.
type fakeFeeder struct {
	sample metrics.TransportSample
}

func (f fakeFeeder) Run(ctx context.Context)                         { <-ctx.Done() }
func (f fakeFeeder) Latest() (metrics.TransportSample, bool) { return f.sample, true }

var _ transport.Feeder = fakeFeeder{}

func newTestLoop(clk *clock.Manual, sample metrics.TransportSample) *Loop {
	fsm := statemachine.New(clk, quality.High)
	w := retry.New(fsm, retry.Config{Enabled: false}) // disabled: immediate apply, simplest to drive deterministically
	agg := aggregator.New(aggregator.DefaultThresholds())

	return New(Config{
		FSM:        fsm,
		Retry:      w,
		Aggregator: agg,
		Feeder:     fakeFeeder{sample: sample},
		Switcher:   broadcast.NullSwitcher{},
		Interval:   time.Second,
	})
}

func TestTickPublishesSnapshotEvenWithoutTransition(t *testing.T) {
	clk := clock.NewManual(time.Now())
	loop := newTestLoop(clk, metrics.TransportSample{TotalBandwidthBps: 8_000_000, ActiveSubflows: 2})

	loop.tick(context.Background())

	snap := loop.Snapshot()
	if snap.CurrentState != quality.High {
		t.Fatalf("CurrentState = %v, want HIGH (no transition should have fired)", snap.CurrentState)
	}
}

func TestTickFiresTransitionOnZeroSubflows(t *testing.T) {
	clk := clock.NewManual(time.Now())
	loop := newTestLoop(clk, metrics.TransportSample{TotalBandwidthBps: 8_000_000, ActiveSubflows: 0})

	loop.tick(context.Background())

	select {
	case ev := <-loop.Transitions():
		if ev.To != quality.Error {
			t.Fatalf("transition To = %v, want ERROR", ev.To)
		}
	default:
		t.Fatal("expected a transition event on the channel after zero-subflow bypass")
	}

	snap := loop.Snapshot()
	if snap.CurrentState != quality.Error {
		t.Fatalf("CurrentState = %v, want ERROR", snap.CurrentState)
	}
}

func TestResetRetryCountersIsSerializedThroughCommandChannel(t *testing.T) {
	clk := clock.NewManual(time.Now())
	loop := newTestLoop(clk, metrics.TransportSample{TotalBandwidthBps: 8_000_000, ActiveSubflows: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	if err := loop.ResetRetryCounters(reqCtx); err != nil {
		t.Fatalf("ResetRetryCounters: %v", err)
	}
}
