package audio

import (
	"fmt"
	"log/slog"

	"github.com/roach88/pulsegrid/internal/grid"
	"github.com/roach88/pulsegrid/internal/registry"
	"github.com/roach88/pulsegrid/internal/runtime"
)

// WarnCode categorizes bridge warnings. Warnings drop events; scheduling
// always continues.
type WarnCode string

const (
	WarnMissingSample  WarnCode = "AUDIO_MISSING_SAMPLE"
	WarnUnknownMapping WarnCode = "AUDIO_UNKNOWN_MAPPING"
	WarnOversize       WarnCode = "AUDIO_OVERSIZE"
	WarnOverflow       WarnCode = "AUDIO_OVERFLOW"
	WarnLate           WarnCode = "AUDIO_LATE"
)

// Warning is one aggregated bridge warning.
type Warning struct {
	Code    WarnCode `json:"code"`
	Message string   `json:"message"`
	Count   int      `json:"count"`
}

// Source is the runtime surface the bridge pulls from.
// *runtime.Engine satisfies it.
type Source interface {
	QueryWindow(t0, t1 float64) []runtime.OutputEvent
	ResetPulses()
}

// Defaults for the window discipline.
const (
	DefaultLookaheadSec = 0.060
	DefaultHorizonSec   = 0.100
	// MinLookaheadMargin is added to the reported callback latency when
	// validating the lookahead.
	MinLookaheadMargin = 0.010
	// DefaultMaxEvents is the host's per-window event budget.
	DefaultMaxEvents = 128
	// DefaultMaxVoices is the host's polyphony budget.
	DefaultMaxVoices = 64
)

// Bridge is the windowed scheduler between the runtime and the host DSP.
//
// Single-owner like the rest of the core: either run it directly on the
// audio thread (it never blocks) or marshal OnTick calls onto the engine
// thread.
type Bridge struct {
	src    Source
	eval   Evaluator
	logger *slog.Logger

	transport Transport
	lookahead float64
	horizon   float64
	maxEvents int
	maxVoices int

	samples [8]*Slot
	// targets maps wire param keys to their mapping table and default,
	// derived from the registry once at construction.
	targets map[string]registry.ParamTarget

	// lastScheduledTick is the dedup watermark: only events strictly
	// beyond it are emitted. Reset on transport change and resync.
	lastScheduledTick float64
	started           bool

	warns     map[WarnCode]*Warning
	warnOrder []WarnCode
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLookahead overrides the lookahead seconds.
func WithLookahead(sec float64) BridgeOption {
	return func(b *Bridge) { b.lookahead = sec }
}

// WithHorizon overrides the window horizon seconds.
func WithHorizon(sec float64) BridgeOption {
	return func(b *Bridge) { b.horizon = sec }
}

// WithHostBudget overrides the host event and voice budgets.
func WithHostBudget(maxEvents, maxVoices int) BridgeOption {
	return func(b *Bridge) { b.maxEvents, b.maxVoices = maxEvents, maxVoices }
}

// WithBridgeLogger overrides the logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// NewBridge wires a runtime source to an evaluator under a transport.
func NewBridge(src Source, eval Evaluator, reg *registry.Registry, transport Transport, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		src:       src,
		eval:      eval,
		logger:    slog.Default(),
		transport: transport,
		lookahead: DefaultLookaheadSec,
		horizon:   DefaultHorizonSec,
		maxEvents: DefaultMaxEvents,
		maxVoices: DefaultMaxVoices,
		targets:   reg.ParamTargets(),
		warns:     map[WarnCode]*Warning{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetSamples installs the 8-slot sample table. Nil slots stay empty and
// events selecting them are dropped with a warning.
func (b *Bridge) SetSamples(slots [8]*Slot) { b.samples = slots }

// Transport returns the current transport.
func (b *Bridge) Transport() Transport { return b.transport }

// SetTransport applies a transport change. It takes effect at the next
// window boundary; events already promised to the host are not retimed.
// The dedup watermark resets because the tick axis moved.
func (b *Bridge) SetTransport(t Transport) {
	b.transport = t
	b.resetWatermark("transport change")
}

// Resync resets the watermark after a clock discontinuity
// (suspend/resume).
func (b *Bridge) Resync() {
	b.resetWatermark("clock resync")
}

// ResetPulses re-seeds the runtime's pulse sources and resets the
// watermark.
func (b *Bridge) ResetPulses() {
	b.src.ResetPulses()
	b.resetWatermark("reset pulses")
}

func (b *Bridge) resetWatermark(reason string) {
	b.started = false
	b.lastScheduledTick = 0
	b.logger.Debug("watermark reset", "reason", reason)
}

// Warnings drains the aggregated warnings.
func (b *Bridge) Warnings() []Warning {
	if len(b.warnOrder) == 0 {
		return nil
	}
	out := make([]Warning, 0, len(b.warnOrder))
	for _, code := range b.warnOrder {
		out = append(out, *b.warns[code])
	}
	b.warns = map[WarnCode]*Warning{}
	b.warnOrder = nil
	return out
}

func (b *Bridge) warn(code WarnCode, message string) {
	if w, ok := b.warns[code]; ok {
		w.Count++
		return
	}
	b.warns[code] = &Warning{Code: code, Message: message, Count: 1}
	b.warnOrder = append(b.warnOrder, code)
}

// OnTick is the host clock callback for the audio window [t0, t1) in
// seconds. latency is the host's reported callback latency; the effective
// lookahead never drops below latency plus the safety margin.
func (b *Bridge) OnTick(t0, t1, latency float64) {
	lookahead := b.lookahead
	if min := latency + MinLookaheadMargin; lookahead < min {
		lookahead = min
	}

	spt := b.transport.SecondsPerTick()
	tickStart := (t1 + lookahead - b.transport.OriginSec) / spt
	tickEnd := tickStart + b.horizon/spt

	events := b.src.QueryWindow(tickStart, tickEnd)

	budget := b.maxEvents
	if b.maxVoices < budget {
		budget = b.maxVoices
	}

	out := make([]WireEvent, 0, len(events))
	emitted := 0
	highTick := b.lastScheduledTick
	for _, ev := range events {
		// Watermark dedup across overlapping windows.
		if b.started && ev.Tick <= b.lastScheduledTick {
			continue
		}

		wire, ok := b.mapEvent(ev)
		if !ok {
			continue
		}
		if wire.Time < t0 {
			b.warn(WarnLate, fmt.Sprintf("event at %.4fs behind host clock %.4fs dropped", wire.Time, t0))
			continue
		}
		if emitted >= budget {
			b.warn(WarnOverflow, fmt.Sprintf("host budget %d reached, event dropped", budget))
			continue
		}
		if _, fits := Encode(wire); !fits {
			b.warn(WarnOversize, fmt.Sprintf("encoded event exceeds %d bytes, dropped", MaxEventBytes))
			continue
		}

		out = append(out, wire)
		emitted++
		if ev.Tick > highTick {
			highTick = ev.Tick
		}
	}

	if highTick > b.lastScheduledTick || !b.started {
		b.lastScheduledTick = highTick
		b.started = true
	}

	if len(out) > 0 {
		b.eval.Evaluate(out)
	}
}

// mapEvent converts one runtime output event to the wire format: sample
// slot selection by value, then every registered param target filled from
// the event overlay or its registry default and mapped through its table.
func (b *Bridge) mapEvent(ev runtime.OutputEvent) (WireEvent, bool) {
	if !grid.InStepRange(ev.Value) {
		b.warn(WarnMissingSample, fmt.Sprintf("value %d outside sample range", ev.Value))
		return WireEvent{}, false
	}
	slot := b.samples[ev.Value-1]
	if slot == nil {
		b.warn(WarnMissingSample, fmt.Sprintf("no sample in slot %d", ev.Value))
		return WireEvent{}, false
	}

	wire := WireEvent{
		Time: b.transport.TimeAt(ev.Tick),
		S:    slot.S,
		N:    slot.N,
	}

	for target, pt := range b.targets {
		raw, ok := ev.Params[target]
		if !ok {
			raw = pt.DefaultParam
		}
		mapped, ok := LookupMapping(pt.Mapping, raw)
		if !ok {
			b.warn(WarnUnknownMapping, fmt.Sprintf("mapping %q for target %q unknown, skipped", pt.Mapping, target))
			continue
		}
		switch target {
		case "end":
			wire.End = mapped
		case "crush":
			wire.Crush = mapped
		case "lpf":
			wire.Lpf = mapped
		case "hpf":
			wire.Hpf = mapped
		default:
			b.warn(WarnUnknownMapping, fmt.Sprintf("target %q has no wire field, skipped", target))
		}
	}
	return wire, true
}
