// Package quality holds the locked QualityState enum and the preset table
// the state machine resolves states to. The table is fixed by the
// production specification; it is not configurable at runtime.
package quality

import "fmt"

// State is one rung of the adaptive quality ladder.
type State int

const (
	High State = iota
	Medium
	Low
	VeryLow
	Recovery
	Error
)

func (s State) String() string {
	switch s {
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	case VeryLow:
		return "VERY_LOW"
	case Recovery:
		return "RECOVERY"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsValid reports whether s is one of the six defined states.
func (s State) IsValid() bool {
	return s >= High && s <= Error
}

// Preset is a static encoder configuration bound to a State. Presets are
// contract, not configuration: callers never hold a mutable alias.
type Preset struct {
	State          State
	Resolution     string
	FPS            int
	BitrateKbps    int
	EncoderPreset  string
}

func (p Preset) String() string {
	return fmt.Sprintf("%s %s@%dfps %dkbps (%s)", p.State, p.Resolution, p.FPS, p.BitrateKbps, p.EncoderPreset)
}

// Presets is the locked State -> Preset lookup table.
var Presets = map[State]Preset{
	High:     {State: High, Resolution: "1920x1080", FPS: 30, BitrateKbps: 4500, EncoderPreset: "veryfast"},
	Medium:   {State: Medium, Resolution: "1280x720", FPS: 30, BitrateKbps: 2500, EncoderPreset: "veryfast"},
	Low:      {State: Low, Resolution: "854x480", FPS: 24, BitrateKbps: 1200, EncoderPreset: "fast"},
	VeryLow:  {State: VeryLow, Resolution: "640x360", FPS: 24, BitrateKbps: 600, EncoderPreset: "fast"},
	Recovery: {State: Recovery, Resolution: "1280x720", FPS: 30, BitrateKbps: 2500, EncoderPreset: "veryfast"},
	Error:    {State: Error, Resolution: "640x360", FPS: 15, BitrateKbps: 300, EncoderPreset: "ultrafast"},
}
