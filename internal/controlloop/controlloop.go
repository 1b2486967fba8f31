// Package controlloop is the single 1Hz cooperative task that ties the
// ingest poller, bonded-transport feeder, dual-source aggregator, retry
// wrapper, and state machine together, then fans out each transition to
// its external subscribers (broadcast-tool client, event sink). It is
// the sole mutator of the state machine and retry counters; everything
// else reads a published snapshot.
package controlloop

import (
	"context"
	"sync"
	"time"

	"github.com/ridgeline-av/streamctl/internal/aggregator"
	"github.com/ridgeline-av/streamctl/internal/broadcast"
	"github.com/ridgeline-av/streamctl/internal/eventsink"
	"github.com/ridgeline-av/streamctl/internal/ingest"
	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/metrics"
	"github.com/ridgeline-av/streamctl/internal/quality"
	"github.com/ridgeline-av/streamctl/internal/retry"
	"github.com/ridgeline-av/streamctl/internal/statemachine"
	"github.com/ridgeline-av/streamctl/internal/transport"
)

var log = logging.L("controlloop")

// Snapshot is the atomically-published read-only view the HTTP surface
// and WebSocket relay consume: current_state, time_in_state, preset from
// one consistent read, exactly as spec'd.
type Snapshot struct {
	CurrentState  quality.State
	PreviousState quality.State
	HasPrevious   bool
	TimeInState   time.Duration
	Preset        quality.Preset
	Aggregated    metrics.AggregatedSample
	DowngradeAdvice aggregator.DowngradeAdvice
}

// TransitionEvent is published on the transition channel every time the
// FSM actually transitions.
type TransitionEvent struct {
	Timestamp time.Time
	From      quality.State
	To        quality.State
	Reason    string
	Sample    metrics.AggregatedSample
}

// command is how the HTTP surface serializes a mutation request through
// the control task rather than racing a tick.
type command struct {
	kind string // "reset-retry"
	done chan struct{}
}

// Config wires the loop's collaborators. Feeder and Switcher may be null
// implementations, and Poller and Sink may be nil, when the corresponding
// feature is disabled.
type Config struct {
	FSM        *statemachine.FSM
	Retry      *retry.Wrapper
	Aggregator *aggregator.Aggregator
	Feeder     transport.Feeder
	Poller     *ingest.Poller
	Switcher   broadcast.Switcher
	Sink       eventsink.Sink
	Interval   time.Duration // default 1s, matching EVALUATION_INTERVAL
}

// Loop is the running control task.
type Loop struct {
	cfg Config

	snapMu sync.RWMutex
	snap   Snapshot

	transitions chan TransitionEvent
	commands    chan command
}

// New constructs a Loop. Call Run to start ticking.
func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Loop{
		cfg:         cfg,
		transitions: make(chan TransitionEvent, 32),
		commands:    make(chan command, 8),
	}
}

// Transitions returns the channel subscribers (WS relay, tests) read
// fired transitions from. Single producer (the loop itself), so
// transitions arrive totally ordered.
func (l *Loop) Transitions() <-chan TransitionEvent { return l.transitions }

// Snapshot returns the most recently published read-only view.
func (l *Loop) Snapshot() Snapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	return l.snap
}

// ResetRetryCounters serializes a counter-reset request through the
// control task so it never races a tick. Blocks until applied.
func (l *Loop) ResetRetryCounters(ctx context.Context) error {
	cmd := command{kind: "reset-retry", done: make(chan struct{})}
	select {
	case l.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks, ticking at cfg.Interval, until ctx is cancelled. Tick skew
// is tolerated: observation windows inside the FSM are wall-clock based
// via its injected Clock, not tick-count based.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.publishSnapshot()

	for {
		select {
		case <-ctx.Done():
			log.Info("control loop stopping")
			return
		case cmd := <-l.commands:
			l.handleCommand(cmd)
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) handleCommand(cmd command) {
	switch cmd.kind {
	case "reset-retry":
		l.cfg.Retry.Reset()
		log.Info("retry counters reset via command channel")
	}
	close(cmd.done)
}

func (l *Loop) tick(ctx context.Context) {
	transportSample, transportOK := l.cfg.Feeder.Latest()

	var ingestSample metrics.IngestSample
	var ingestOK bool
	if l.cfg.Poller != nil {
		ingestSample, ingestOK = l.cfg.Poller.Latest()
	}

	aggregated := l.cfg.Aggregator.Aggregate(transportSample, transportOK, ingestSample, ingestOK)

	before := l.cfg.FSM.CurrentState()
	decision := l.cfg.Retry.Evaluate(retry.Sample{
		TotalBandwidthBps: transportSample.TotalBandwidthBps,
		PacketLossPercent: transportSample.PacketLossPercent,
		MinRTTMs:          transportSample.MinRTTMs,
		MaxRTTMs:          transportSample.MaxRTTMs,
		ActiveSubflows:    transportSample.ActiveSubflows,
	})
	after := l.cfg.FSM.CurrentState()

	if decision != nil && after != before {
		l.onTransition(ctx, before, after, decision.Reason, aggregated, transportSample)
	}

	l.publishSnapshotWith(aggregated)
}

func (l *Loop) onTransition(ctx context.Context, from, to quality.State, reason string, aggregated metrics.AggregatedSample, transport metrics.TransportSample) {
	log.Info("transition fired", "from", from.String(), "to", to.String(), "reason", reason)

	event := TransitionEvent{Timestamp: time.Now(), From: from, To: to, Reason: reason, Sample: aggregated}
	select {
	case l.transitions <- event:
	default:
		log.Warn("transition channel full, subscriber too slow", "from", from.String(), "to", to.String())
	}

	switchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := l.cfg.Switcher.SwitchForState(switchCtx, to); err != nil {
		log.Warn("broadcast-tool scene switch failed", "error", err, "state", to.String())
	}
	cancel()

	if l.cfg.Sink != nil {
		sinkCtx, sinkCancel := context.WithTimeout(ctx, 2*time.Second)
		_ = l.cfg.Sink.RecordTransition(sinkCtx, eventsink.Transition{
			Timestamp:         event.Timestamp,
			From:              from,
			To:                to,
			Reason:            reason,
			BandwidthMbps:     transport.TotalBandwidthMbps(),
			PacketLossPercent: transport.PacketLossPercent,
			RTTMs:             transport.MaxRTTMs,
		})
		sinkCancel()
	}
}

func (l *Loop) publishSnapshot() {
	l.publishSnapshotWith(metrics.AggregatedSample{})
}

func (l *Loop) publishSnapshotWith(aggregated metrics.AggregatedSample) {
	fsmSnap := l.cfg.FSM.Snapshot()

	var ingestSample metrics.IngestSample
	var ingestOK bool
	if l.cfg.Poller != nil {
		ingestSample, ingestOK = l.cfg.Poller.Latest()
	}
	advice := l.cfg.Aggregator.ShouldDowngrade(aggregated, ingestSample, ingestOK)

	l.snapMu.Lock()
	l.snap = Snapshot{
		CurrentState:    fsmSnap.CurrentState,
		PreviousState:   fsmSnap.PreviousState,
		HasPrevious:     fsmSnap.HasPrevious,
		TimeInState:     l.cfg.FSM.TimeInState(),
		Preset:          l.cfg.FSM.CurrentPreset(),
		Aggregated:      aggregated,
		DowngradeAdvice: advice,
	}
	l.snapMu.Unlock()
}
