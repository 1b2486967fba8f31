// Package statemachine implements the locked Adaptive Quality State
// Machine: the production rung table, dwell and observation-window gates,
// and condition tracking that decide when the encoder should change
// quality tiers. The transition rules themselves are not configurable -
// only the clock backing them is, so tests can drive time deterministically.
package statemachine

import (
	"fmt"
	"sync"
	"time"

	"github.com/ridgeline-av/streamctl/internal/clock"
	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/quality"
)

var log = logging.L("statemachine")

// Timers are the locked timing constants the evaluation rules are built
// on. They are not meant to be tuned per deployment.
const (
	MinStateDwell          = 45 * time.Second
	RecoveryDwell          = 60 * time.Second
	DowngradeObservation5  = 5 * time.Second
	DowngradeObservation10 = 10 * time.Second
	VeryLowToErrorWindow   = 20 * time.Second
	UpgradeObservation     = 60 * time.Second
	EvaluationInterval     = 1 * time.Second
)

// Named conditions, exactly as the production rule table names them.
const (
	condHighPacketLoss     = "high_packet_loss"
	condHighLowBandwidth   = "high_low_bandwidth"
	condMediumPacketLoss   = "medium_packet_loss"
	condMediumLowBandwidth = "medium_low_bandwidth"
	condLowPacketLoss      = "low_packet_loss"
	condLowLowBandwidth    = "low_low_bandwidth"
	condVeryLowCritical    = "very_low_critical"
	condVeryLowUpgrade     = "very_low_upgrade"
	condLowUpgrade         = "low_upgrade"
	condMediumUpgrade      = "medium_upgrade"
)

// StateContext is the state machine's mutable position: current state,
// when it was entered, the previous state (meaningful only around
// RECOVERY), and the currently-tracked condition timer.
type StateContext struct {
	CurrentState  quality.State
	PreviousState quality.State
	HasPrevious   bool
	EnteredAt     time.Time
	ConditionName string
	ConditionMetAt time.Time
	hasCondition  bool

	UpgradeConditionName  string
	UpgradeConditionMetAt time.Time
	hasUpgradeCondition   bool
}

// TimeInState returns how long the context has held CurrentState.
func (c *StateContext) TimeInState(now time.Time) time.Duration {
	return now.Sub(c.EnteredAt)
}

// ConditionDuration returns how long the current named downgrade condition
// has held, or zero if none is being tracked. Owned exclusively by
// EvaluateDowngrade; EvaluateUpgrade must never touch this timer.
func (c *StateContext) ConditionDuration(now time.Time) time.Duration {
	if !c.hasCondition {
		return 0
	}
	return now.Sub(c.ConditionMetAt)
}

// SetCondition starts (or continues) tracking a named downgrade condition.
// Naming a different condition than the one already tracked resets its timer.
func (c *StateContext) SetCondition(now time.Time, name string) {
	if !c.hasCondition || c.ConditionName != name {
		c.ConditionMetAt = now
		c.ConditionName = name
		c.hasCondition = true
	}
}

// ClearCondition stops tracking any downgrade condition.
func (c *StateContext) ClearCondition() {
	c.hasCondition = false
	c.ConditionName = ""
}

// UpgradeConditionDuration is ConditionDuration's counterpart for
// EvaluateUpgrade. Downgrade and upgrade track independent timers so that
// one direction's rule never clobbers the other's in-progress observation
// window on the same tick.
func (c *StateContext) UpgradeConditionDuration(now time.Time) time.Duration {
	if !c.hasUpgradeCondition {
		return 0
	}
	return now.Sub(c.UpgradeConditionMetAt)
}

// SetUpgradeCondition is SetCondition's counterpart for EvaluateUpgrade.
func (c *StateContext) SetUpgradeCondition(now time.Time, name string) {
	if !c.hasUpgradeCondition || c.UpgradeConditionName != name {
		c.UpgradeConditionMetAt = now
		c.UpgradeConditionName = name
		c.hasUpgradeCondition = true
	}
}

// ClearUpgradeCondition stops tracking any upgrade condition.
func (c *StateContext) ClearUpgradeCondition() {
	c.hasUpgradeCondition = false
	c.UpgradeConditionName = ""
}

// transitionTo moves to newState, tracking PreviousState only around
// RECOVERY: entering RECOVERY remembers what it is recovering from, and
// leaving RECOVERY forgets it.
func (c *StateContext) transitionTo(now time.Time, newState quality.State) {
	if newState == quality.Recovery {
		c.PreviousState = c.CurrentState
		c.HasPrevious = true
	} else if c.CurrentState == quality.Recovery {
		c.HasPrevious = false
	}
	c.CurrentState = newState
	c.EnteredAt = now
	c.ClearCondition()
	c.ClearUpgradeCondition()
}

// Decision is a recommended transition with its human-readable reason.
type Decision struct {
	Target quality.State
	Reason string
}

// FSM is the production state machine. It is safe for concurrent use; the
// control loop is expected to be its only caller, but the mutex makes the
// status endpoint's read-only snapshot safe too.
type FSM struct {
	mu    sync.Mutex
	clock clock.Clock
	ctx   StateContext
}

// New creates an FSM starting in initial, using clk for all time reads.
func New(clk clock.Clock, initial quality.State) *FSM {
	now := clk.Now()
	f := &FSM{
		clock: clk,
		ctx: StateContext{
			CurrentState: initial,
			EnteredAt:    now,
		},
	}
	log.Info("state machine initialized", "state", initial.String())
	return f
}

// CurrentState returns the state the FSM currently holds.
func (f *FSM) CurrentState() quality.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx.CurrentState
}

// CurrentPreset resolves the FSM's current state to its encoder preset via
// the locked lookup table.
func (f *FSM) CurrentPreset() quality.Preset {
	f.mu.Lock()
	defer f.mu.Unlock()
	return quality.Presets[f.ctx.CurrentState]
}

// Snapshot returns a copy of the current context, safe to read without
// holding the FSM's lock.
func (f *FSM) Snapshot() StateContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx
}

// TimeInState returns how long the FSM has held its current state, using
// its own injected clock so callers don't need one of their own.
func (f *FSM) TimeInState() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx.TimeInState(f.clock.Now())
}

// EvaluateDowngrade checks whether current network conditions call for
// moving to a lower (or ERROR) state. It returns nil when no transition is
// due yet, whether because the dwell gate hasn't elapsed, conditions are
// fine, or a condition hasn't held long enough.
func (f *FSM) EvaluateDowngrade(totalBandwidthBps, packetLossPercent, maxRTTMs float64, activeSubflows int) *Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()

	// Zero active subflows bypasses every gate below, including the min
	// dwell: both uplinks being down is an immediate ERROR regardless of
	// how long the state machine has held its current state.
	if activeSubflows == 0 {
		return &Decision{Target: quality.Error, Reason: "Both uplinks failed"}
	}

	// The condition timer runs during the dwell, but no decision is
	// returned until both the dwell and the observation window are met.
	dwellMet := f.ctx.TimeInState(now) >= MinStateDwell

	current := f.ctx.CurrentState

	switch current {
	case quality.High:
		if packetLossPercent > 2.0 {
			f.ctx.SetCondition(now, condHighPacketLoss)
			if dwellMet && f.ctx.ConditionDuration(now) >= DowngradeObservation5 {
				return &Decision{Target: quality.Medium, Reason: fmt.Sprintf("Packet loss %.1f%% >2%% for 5s", packetLossPercent)}
			}
		} else if totalBandwidthBps < 5_000_000 {
			f.ctx.SetCondition(now, condHighLowBandwidth)
			if dwellMet && f.ctx.ConditionDuration(now) >= DowngradeObservation10 {
				return &Decision{Target: quality.Medium, Reason: fmt.Sprintf("Bandwidth %.2f Mbps <5 Mbps for 10s", totalBandwidthBps/1e6)}
			}
		} else {
			f.ctx.ClearCondition()
		}

	case quality.Medium:
		if packetLossPercent > 3.0 {
			f.ctx.SetCondition(now, condMediumPacketLoss)
			if dwellMet && f.ctx.ConditionDuration(now) >= DowngradeObservation5 {
				return &Decision{Target: quality.Low, Reason: fmt.Sprintf("Packet loss %.1f%% >3%% for 5s", packetLossPercent)}
			}
		} else if totalBandwidthBps < 3_000_000 {
			f.ctx.SetCondition(now, condMediumLowBandwidth)
			if dwellMet && f.ctx.ConditionDuration(now) >= DowngradeObservation10 {
				return &Decision{Target: quality.Low, Reason: fmt.Sprintf("Bandwidth %.2f Mbps <3 Mbps for 10s", totalBandwidthBps/1e6)}
			}
		} else {
			f.ctx.ClearCondition()
		}

	case quality.Low:
		if packetLossPercent > 5.0 {
			f.ctx.SetCondition(now, condLowPacketLoss)
			if dwellMet && f.ctx.ConditionDuration(now) >= DowngradeObservation5 {
				return &Decision{Target: quality.VeryLow, Reason: fmt.Sprintf("Packet loss %.1f%% >5%% for 5s", packetLossPercent)}
			}
		} else if totalBandwidthBps < 1_500_000 {
			f.ctx.SetCondition(now, condLowLowBandwidth)
			if dwellMet && f.ctx.ConditionDuration(now) >= DowngradeObservation10 {
				return &Decision{Target: quality.VeryLow, Reason: fmt.Sprintf("Bandwidth %.2f Mbps <1.5 Mbps for 10s", totalBandwidthBps/1e6)}
			}
		} else {
			f.ctx.ClearCondition()
		}

	case quality.VeryLow:
		if totalBandwidthBps < 500_000 {
			f.ctx.SetCondition(now, condVeryLowCritical)
			if dwellMet && f.ctx.ConditionDuration(now) >= VeryLowToErrorWindow {
				return &Decision{Target: quality.Error, Reason: fmt.Sprintf("Bandwidth %.2f Mbps <0.5 Mbps for 20s", totalBandwidthBps/1e6)}
			}
		} else {
			f.ctx.ClearCondition()
		}
	}

	return nil
}

// EvaluateUpgrade checks whether current network conditions call for
// moving to a higher state, or for completing a RECOVERY dwell.
func (f *FSM) EvaluateUpgrade(totalBandwidthBps, packetLossPercent, minRTTMs float64, activeSubflows int) *Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	current := f.ctx.CurrentState

	if current == quality.Error {
		return nil
	}
	if f.ctx.TimeInState(now) < MinStateDwell {
		return nil
	}

	if current == quality.Recovery {
		if f.ctx.TimeInState(now) >= RecoveryDwell && f.ctx.HasPrevious {
			var target quality.State
			switch f.ctx.PreviousState {
			case quality.VeryLow:
				target = quality.Low
			case quality.Low:
				target = quality.Medium
			case quality.Medium:
				target = quality.High
			default:
				return nil
			}
			return &Decision{Target: target, Reason: fmt.Sprintf("Recovery complete, upgrading from %s", f.ctx.PreviousState.String())}
		}
		return nil
	}

	switch current {
	case quality.VeryLow:
		if totalBandwidthBps > 2_500_000 && packetLossPercent < 1.0 && minRTTMs < 100 {
			f.ctx.SetUpgradeCondition(now, condVeryLowUpgrade)
			if f.ctx.UpgradeConditionDuration(now) >= UpgradeObservation {
				return &Decision{Target: quality.Recovery, Reason: "Network stable for 60s"}
			}
		} else {
			f.ctx.ClearUpgradeCondition()
		}

	case quality.Low:
		if totalBandwidthBps > 4_500_000 && packetLossPercent < 0.5 && minRTTMs < 80 {
			f.ctx.SetUpgradeCondition(now, condLowUpgrade)
			if f.ctx.UpgradeConditionDuration(now) >= UpgradeObservation {
				return &Decision{Target: quality.Recovery, Reason: "Network stable for 60s"}
			}
		} else {
			f.ctx.ClearUpgradeCondition()
		}

	case quality.Medium:
		if totalBandwidthBps > 7_000_000 && packetLossPercent < 0.5 && minRTTMs < 100 {
			f.ctx.SetUpgradeCondition(now, condMediumUpgrade)
			if f.ctx.UpgradeConditionDuration(now) >= UpgradeObservation {
				return &Decision{Target: quality.Recovery, Reason: "Network stable for 60s"}
			}
		} else {
			f.ctx.ClearUpgradeCondition()
		}
	}

	return nil
}

// ApplyTransition commits d, moving the FSM into d.Target and logging the
// change the way the production rule table has always logged it.
func (f *FSM) ApplyTransition(d Decision) {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := f.ctx.CurrentState
	now := f.clock.Now()
	log.Info("state transition",
		"from", old.String(),
		"to", d.Target.String(),
		"reason", d.Reason,
	)
	f.ctx.transitionTo(now, d.Target)
}
