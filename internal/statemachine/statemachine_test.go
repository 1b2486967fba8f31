package statemachine

import (
	"testing"
	"time"

	"github.com/ridgeline-av/streamctl/internal/clock"
	"github.com/ridgeline-av/streamctl/internal/quality"
)

func newTestFSM(t *testing.T, initial quality.State) (*FSM, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(c, initial), c
}

func TestEvaluateDowngradeRespectsMinDwell(t *testing.T) {
	f, clk := newTestFSM(t, quality.High)

	// Within the dwell window, even a hard-down condition is ignored.
	if d := f.EvaluateDowngrade(1_000_000, 10, 400, 2); d != nil {
		t.Fatalf("expected no decision before dwell elapses, got %+v", d)
	}

	clk.Advance(MinStateDwell)
	if d := f.EvaluateDowngrade(1_000_000, 10, 400, 2); d == nil {
		t.Fatal("expected a downgrade decision once dwell has elapsed")
	}
}

func TestEvaluateDowngradeHighPacketLossAfterObservationWindow(t *testing.T) {
	f, clk := newTestFSM(t, quality.High)
	clk.Advance(MinStateDwell)

	if d := f.EvaluateDowngrade(8_000_000, 3.5, 50, 2); d != nil {
		t.Fatalf("condition just started, expected nil, got %+v", d)
	}

	clk.Advance(DowngradeObservation5 - time.Second)
	if d := f.EvaluateDowngrade(8_000_000, 3.5, 50, 2); d != nil {
		t.Fatalf("observation window not yet elapsed, expected nil, got %+v", d)
	}

	clk.Advance(2 * time.Second)
	d := f.EvaluateDowngrade(8_000_000, 3.5, 50, 2)
	if d == nil || d.Target != quality.Medium {
		t.Fatalf("expected downgrade to MEDIUM, got %+v", d)
	}
}

func TestEvaluateDowngradeConditionClearsWhenRecovered(t *testing.T) {
	f, clk := newTestFSM(t, quality.High)
	clk.Advance(MinStateDwell)

	f.EvaluateDowngrade(8_000_000, 3.5, 50, 2)
	clk.Advance(3 * time.Second)
	// Loss drops back to normal before the 5s window elapses.
	if d := f.EvaluateDowngrade(8_000_000, 0.5, 50, 2); d != nil {
		t.Fatalf("expected nil once condition clears, got %+v", d)
	}

	clk.Advance(4 * time.Second)
	f.EvaluateDowngrade(8_000_000, 3.5, 50, 2) // restarts the condition timer
	clk.Advance(4 * time.Second)
	if d := f.EvaluateDowngrade(8_000_000, 3.5, 50, 2); d != nil {
		t.Fatalf("condition timer should have restarted, expected nil, got %+v", d)
	}
}

func TestEvaluateDowngradeZeroSubflowsIsImmediateError(t *testing.T) {
	f, _ := newTestFSM(t, quality.Medium)

	// No time has passed in this state at all; zero subflows must still
	// fire immediately, bypassing the min dwell gate entirely.
	d := f.EvaluateDowngrade(0, 0, 0, 0)
	if d == nil || d.Target != quality.Error {
		t.Fatalf("expected immediate ERROR on zero subflows, got %+v", d)
	}
}

func TestEvaluateUpgradeErrorIsTerminal(t *testing.T) {
	f, clk := newTestFSM(t, quality.Error)
	clk.Advance(time.Hour)

	if d := f.EvaluateUpgrade(100_000_000, 0, 1, 4); d != nil {
		t.Fatalf("ERROR must never upgrade on its own, got %+v", d)
	}
}

func TestEvaluateUpgradeVeryLowToRecoveryThenToLow(t *testing.T) {
	f, clk := newTestFSM(t, quality.VeryLow)
	clk.Advance(MinStateDwell)

	f.EvaluateUpgrade(3_000_000, 0.5, 50, 2)
	clk.Advance(UpgradeObservation - time.Second)
	if d := f.EvaluateUpgrade(3_000_000, 0.5, 50, 2); d != nil {
		t.Fatalf("observation window not yet elapsed, got %+v", d)
	}

	clk.Advance(2 * time.Second)
	d := f.EvaluateUpgrade(3_000_000, 0.5, 50, 2)
	if d == nil || d.Target != quality.Recovery {
		t.Fatalf("expected RECOVERY, got %+v", d)
	}
	f.ApplyTransition(*d)

	// Recovery dwell hasn't elapsed yet.
	if d := f.EvaluateUpgrade(3_000_000, 0.5, 50, 2); d != nil {
		t.Fatalf("expected nil before recovery dwell elapses, got %+v", d)
	}

	clk.Advance(MinStateDwell) // also satisfies recovery's own min-dwell gate
	clk.Advance(RecoveryDwell - MinStateDwell)
	d2 := f.EvaluateUpgrade(3_000_000, 0.5, 50, 2)
	if d2 == nil || d2.Target != quality.Low {
		t.Fatalf("expected upgrade to LOW after recovery dwell, got %+v", d2)
	}
}

func TestCurrentPresetUsesLockedTable(t *testing.T) {
	f, _ := newTestFSM(t, quality.High)
	preset := f.CurrentPreset()
	if preset.BitrateKbps != 4500 || preset.Resolution != "1920x1080" {
		t.Fatalf("CurrentPreset() = %+v, want the locked HIGH preset", preset)
	}
}

func TestApplyTransitionClearsConditionAndResetsDwell(t *testing.T) {
	f, clk := newTestFSM(t, quality.High)
	clk.Advance(MinStateDwell)
	f.EvaluateDowngrade(8_000_000, 3.5, 50, 2)

	f.ApplyTransition(Decision{Target: quality.Medium, Reason: "test"})

	snap := f.Snapshot()
	if snap.CurrentState != quality.Medium {
		t.Fatalf("CurrentState = %v, want MEDIUM", snap.CurrentState)
	}
	if snap.hasCondition {
		t.Fatal("condition should be cleared after a transition")
	}
	if got := f.TimeInStateForTest(clk.Now()); got != 0 {
		t.Fatalf("time in state should reset to 0 immediately after transition, got %v", got)
	}
}

// TimeInStateForTest exposes TimeInState at a caller-supplied time, under
// the FSM's lock, for this package's own white-box tests.
func (f *FSM) TimeInStateForTest(now time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx.TimeInState(now)
}
