// Package broadcast notifies an external broadcast tool (OBS Studio, via
// obs-websocket) when the quality state machine transitions, so the
// encoder-facing scene/profile can follow the selected preset. It is a
// notification sink only: the state machine never blocks on it and never
// reverses a decision because a switch failed.
package broadcast

import (
	"context"

	"github.com/ridgeline-av/streamctl/internal/quality"
)

// Switcher is the interface the control loop depends on. Implementations
// must never block the caller for longer than a bounded send timeout and
// must never return an error that implies the transition itself failed.
type Switcher interface {
	// SwitchForState asks the broadcast tool to switch to the scene/profile
	// mapped to the given quality state. A returned error only means the
	// request could not be delivered right now (e.g. disconnected); the
	// state machine's decision stands regardless.
	SwitchForState(ctx context.Context, state quality.State) error

	// Connected reports whether the underlying transport is currently
	// usable. It is advisory, used for status reporting.
	Connected() bool

	// Close releases any held resources (connections, goroutines).
	Close() error
}

// NullSwitcher is used when no broadcast tool is configured. It always
// reports success and never holds a connection, matching the optional
// subsystem pattern used by the other external collaborators.
type NullSwitcher struct{}

func (NullSwitcher) SwitchForState(ctx context.Context, state quality.State) error { return nil }
func (NullSwitcher) Connected() bool                                              { return true }
func (NullSwitcher) Close() error                                                 { return nil }

var _ Switcher = NullSwitcher{}
