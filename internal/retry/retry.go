// Package retry wraps the state machine with an N-consecutive-
// recommendation debounce policy, plus an asymmetric instant-recovery
// path for upgrades. It is a pure decorator over the FSM's
// evaluate/apply contract: it never inspects or mutates StateContext
// itself, so the FSM stays independently testable with immediate-apply
// semantics.
package retry

import (
	"sync"

	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/quality"
	"github.com/ridgeline-av/streamctl/internal/statemachine"
)

var log = logging.L("retry")

// Config tunes the debounce policy.
type Config struct {
	// Enabled gates the whole wrapper; disabled behaves as a straight
	// passthrough to the inner FSM (downgrade preferred over upgrade).
	Enabled bool
	// Attempts is the number of consecutive same-target recommendations
	// required before a transition is applied.
	Attempts int
	// InstantRecovery applies upgrade recommendations immediately,
	// bypassing the attempts counter, rather than debouncing them too.
	InstantRecovery bool
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, Attempts: 5, InstantRecovery: true}
}

// Wrapper is a stateful decorator around an *statemachine.FSM. Counters are
// keyed by target state, not by source: changing the recommended target
// within the same direction implicitly resets the old target's counter,
// since only the current recommendation's counter is ever incremented.
type Wrapper struct {
	mu        sync.Mutex
	fsm       *statemachine.FSM
	cfg       Config
	downCounts map[quality.State]int
	upCounts   map[quality.State]int
}

// New wraps fsm with cfg's debounce policy.
func New(fsm *statemachine.FSM, cfg Config) *Wrapper {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Wrapper{
		fsm:        fsm,
		cfg:        cfg,
		downCounts: make(map[quality.State]int),
		upCounts:   make(map[quality.State]int),
	}
}

// Sample is the single tick's worth of network quantities the FSM
// evaluates transitions against.
type Sample struct {
	TotalBandwidthBps float64
	PacketLossPercent float64
	MinRTTMs          float64
	MaxRTTMs          float64
	ActiveSubflows    int
}

// Evaluate runs one tick of the debounce policy: it asks the inner FSM for
// both a downgrade and an upgrade recommendation, applies the configured
// policy, and returns the transition actually committed this tick, if any.
func (w *Wrapper) Evaluate(s Sample) *statemachine.Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	down := w.fsm.EvaluateDowngrade(s.TotalBandwidthBps, s.PacketLossPercent, s.MaxRTTMs, s.ActiveSubflows)
	up := w.fsm.EvaluateUpgrade(s.TotalBandwidthBps, s.PacketLossPercent, s.MinRTTMs, s.ActiveSubflows)

	if !w.cfg.Enabled {
		var chosen *statemachine.Decision
		if down != nil {
			chosen = down
		} else if up != nil {
			chosen = up
		}
		if chosen != nil {
			w.fsm.ApplyTransition(*chosen)
		}
		return chosen
	}

	switch {
	case down != nil:
		w.upCounts = make(map[quality.State]int)
		w.downCounts[down.Target]++
		log.Debug("downgrade recommendation observed", "target", down.Target.String(), "count", w.downCounts[down.Target], "attempts", w.cfg.Attempts)
		if w.downCounts[down.Target] >= w.cfg.Attempts {
			w.resetCounters()
			w.fsm.ApplyTransition(*down)
			return down
		}
		return nil

	case up != nil:
		w.downCounts = make(map[quality.State]int)
		if w.cfg.InstantRecovery {
			w.resetCounters()
			w.fsm.ApplyTransition(*up)
			return up
		}
		w.upCounts[up.Target]++
		log.Debug("upgrade recommendation observed", "target", up.Target.String(), "count", w.upCounts[up.Target], "attempts", w.cfg.Attempts)
		if w.upCounts[up.Target] >= w.cfg.Attempts {
			w.resetCounters()
			w.fsm.ApplyTransition(*up)
			return up
		}
		return nil

	default:
		w.resetCounters()
		return nil
	}
}

// Counters returns a snapshot of the current per-target counters, for the
// retry-status endpoint.
func (w *Wrapper) Counters() (downgrade, upgrade map[quality.State]int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	downgrade = make(map[quality.State]int, len(w.downCounts))
	for k, v := range w.downCounts {
		downgrade[k] = v
	}
	upgrade = make(map[quality.State]int, len(w.upCounts))
	for k, v := range w.upCounts {
		upgrade[k] = v
	}
	return downgrade, upgrade
}

// Reset clears all counters, e.g. in response to the reset-retry HTTP
// command.
func (w *Wrapper) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetCounters()
}

func (w *Wrapper) resetCounters() {
	w.downCounts = make(map[quality.State]int)
	w.upCounts = make(map[quality.State]int)
}
