package retry

import (
	"testing"
	"time"

	"github.com/ridgeline-av/streamctl/internal/clock"
	"github.com/ridgeline-av/streamctl/internal/quality"
	"github.com/ridgeline-av/streamctl/internal/statemachine"
)

func TestDebounceFiresOnNthAttempt(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fsm := statemachine.New(clk, quality.Medium)
	clk.Advance(statemachine.MinStateDwell)

	w := New(fsm, Config{Enabled: true, Attempts: 5, InstantRecovery: false})

	fsm.EvaluateDowngrade(4_000_000, 4.0, 50, 2) // start the condition timer
	clk.Advance(statemachine.DowngradeObservation5)

	downgradeSample := Sample{TotalBandwidthBps: 4_000_000, PacketLossPercent: 4.0, MaxRTTMs: 50, MinRTTMs: 50, ActiveSubflows: 2}

	for i := 1; i <= 4; i++ {
		if d := w.Evaluate(downgradeSample); d != nil {
			t.Fatalf("tick %d: expected no transition before the 5th attempt, got %+v", i, d)
		}
		clk.Advance(time.Second)
	}

	d := w.Evaluate(downgradeSample)
	if d == nil || d.Target != quality.Low {
		t.Fatalf("5th tick: expected transition to LOW, got %+v", d)
	}
	if fsm.CurrentState() != quality.Low {
		t.Fatalf("FSM state = %v, want LOW", fsm.CurrentState())
	}
}

func TestDebounceResetsCountersOnGoodTick(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fsm := statemachine.New(clk, quality.Medium)
	clk.Advance(statemachine.MinStateDwell)

	w := New(fsm, Config{Enabled: true, Attempts: 5, InstantRecovery: false})

	downgradeSample := Sample{TotalBandwidthBps: 4_000_000, PacketLossPercent: 4.0, MaxRTTMs: 50, MinRTTMs: 50, ActiveSubflows: 2}
	for i := 0; i < 4; i++ {
		w.Evaluate(downgradeSample)
		clk.Advance(time.Second)
	}

	goodSample := Sample{TotalBandwidthBps: 10_000_000, PacketLossPercent: 0.1, MaxRTTMs: 20, MinRTTMs: 20, ActiveSubflows: 2}
	w.Evaluate(goodSample)

	down, up := w.Counters()
	if len(down) != 0 || len(up) != 0 {
		t.Fatalf("expected counters cleared after a good tick, got down=%v up=%v", down, up)
	}
}

func TestInstantRecoveryAppliesImmediately(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fsm := statemachine.New(clk, quality.VeryLow)
	clk.Advance(statemachine.MinStateDwell)

	w := New(fsm, Config{Enabled: true, Attempts: 5, InstantRecovery: true})

	fsm.EvaluateUpgrade(3_000_000, 0.5, 50, 2) // start the condition timer
	clk.Advance(statemachine.UpgradeObservation)

	d := w.Evaluate(Sample{TotalBandwidthBps: 3_000_000, PacketLossPercent: 0.5, MinRTTMs: 50, MaxRTTMs: 50, ActiveSubflows: 2})
	if d == nil || d.Target != quality.Recovery {
		t.Fatalf("expected immediate RECOVERY transition, got %+v", d)
	}
}

func TestDisabledWrapperAppliesImmediatelyLikeFSM(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fsm := statemachine.New(clk, quality.Medium)
	clk.Advance(statemachine.MinStateDwell)

	w := New(fsm, Config{Enabled: false})

	d := w.Evaluate(Sample{TotalBandwidthBps: 0, PacketLossPercent: 0, MinRTTMs: 0, MaxRTTMs: 0, ActiveSubflows: 0})
	if d == nil || d.Target != quality.Error {
		t.Fatalf("disabled wrapper should apply the inner FSM's recommendation immediately, got %+v", d)
	}
}
