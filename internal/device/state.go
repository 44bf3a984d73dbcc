// Package device implements the per-device state machine and the
// supporting components (C1-C9) that the root package's
// Manager orchestrates. Components are split across files by concern,
// one file per concern, with a single dispatcher that advances state.
package device

// State is a device's position in the negotiation chain. Transitions are
// monotonic toward StateGone within one lifecycle.
type State int

const (
	StateProvisional State = iota
	StateProbingMode
	StateSwitchingMode
	StateConfiguring
	StateReadingSerial
	StateLive
	StateDoomed
	StateGone
)

func (s State) String() string {
	switch s {
	case StateProvisional:
		return "provisional"
	case StateProbingMode:
		return "probing_mode"
	case StateSwitchingMode:
		return "switching_mode"
	case StateConfiguring:
		return "configuring"
	case StateReadingSerial:
		return "reading_serial"
	case StateLive:
		return "live"
	case StateDoomed:
		return "doomed"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// IsAlive reports whether the device should be counted as attached for
// mark-and-sweep purposes (anything short of doomed/gone).
func (s State) IsAlive() bool { return s != StateDoomed && s != StateGone }

// serialPhase disambiguates the two control transfers issued while a
// Record is in StateReadingSerial (language-ID lookup, then the serial
// string itself), since both arrive through the same completion path.
type serialPhase int

const (
	phaseLangID serialPhase = iota
	phaseSerial
)
