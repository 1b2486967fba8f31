// Package transport defines the common contract bonded-transport
// backends implement: a background Feeder that polls or listens for
// link statistics and exposes the latest normalized TransportSample.
// Exactly one feeder is active per process (selected by transport_mode),
// but both backends share this shape so the control loop never needs to
// know which one it is talking to.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/ridgeline-av/streamctl/internal/metrics"
)

// Feeder is implemented by each bonded-transport backend (MPTCP, SRTLA).
// Run blocks until ctx is cancelled; Latest is safe to call concurrently
// from the control loop while Run is active, following the shared
// latest-write-wins sample-slot pattern used throughout this module.
type Feeder interface {
	Run(ctx context.Context)
	Latest() (metrics.TransportSample, bool)
}

// SampleSlot is the mutex-guarded "last known good" holder shared by both
// backend implementations: latest-write-wins, no channel hand-off.
type SampleSlot struct {
	mu      sync.Mutex
	sample  metrics.TransportSample
	hasData bool
}

func (s *SampleSlot) Set(sample metrics.TransportSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample.Timestamp = time.Now()
	s.sample = sample
	s.hasData = true
}

func (s *SampleSlot) Get() (metrics.TransportSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample, s.hasData
}

// NullFeeder is used when no bonded-transport backend is configured; it
// never produces a sample.
type NullFeeder struct{}

func (NullFeeder) Run(ctx context.Context)                              { <-ctx.Done() }
func (NullFeeder) Latest() (metrics.TransportSample, bool) { return metrics.TransportSample{}, false }

var _ Feeder = NullFeeder{}
