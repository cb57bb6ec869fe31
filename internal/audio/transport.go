package audio

// DefaultTicksPerBeat is the global tick resolution. It is a constant of
// the system, never persisted.
const DefaultTicksPerBeat = 4.0

// Transport maps ticks to absolute seconds under the host clock.
type Transport struct {
	// BPM is persisted with the project.
	BPM float64
	// TicksPerBeat is the global constant resolution.
	TicksPerBeat float64
	// OriginSec anchors tick 0 on the host clock.
	OriginSec float64
}

// NewTransport creates a transport at the given BPM with the default
// resolution and origin 0.
func NewTransport(bpm float64) Transport {
	return Transport{BPM: bpm, TicksPerBeat: DefaultTicksPerBeat}
}

// SecondsPerTick returns the tick duration: 60 / (bpm * ticksPerBeat).
func (t Transport) SecondsPerTick() float64 {
	return 60.0 / (t.BPM * t.TicksPerBeat)
}

// TimeAt converts a tick to absolute seconds.
func (t Transport) TimeAt(tick float64) float64 {
	return t.OriginSec + tick*t.SecondsPerTick()
}

// TickAt converts absolute seconds to a tick.
func (t Transport) TickAt(sec float64) float64 {
	return (sec - t.OriginSec) / t.SecondsPerTick()
}
