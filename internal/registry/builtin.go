package registry

import "github.com/roach88/pulsegrid/internal/grid"

// Node type keys with special runtime handling.
const (
	TypePulse  = "pulse"
	TypeOutput = "output"
	TypeGroup  = "group"
)

// DefaultPulsePeriod is the self-firing interval for pulse nodes, in ticks.
const DefaultPulsePeriod = 4

// Builtin returns the stock catalog. Hosts extend it by appending their own
// definitions (or CUE-compiled ones) before calling New.
func Builtin() []Definition {
	return []Definition{
		{
			Type: TypePulse, Label: "Pulse", Layout: LayoutSingleIO,
			Inputs: 1, Outputs: 1, DefaultParam: 1, Period: DefaultPulsePeriod,
			OnSignal: func(ctx *BehaviorContext) *SignalResult {
				// Fires on the self-scheduled tick and on incoming
				// retriggers alike.
				return &SignalResult{Outputs: []EmittedOutput{
					{Slot: 0, Value: ctx.Param},
				}}
			},
		},
		{
			Type: TypeOutput, Label: "Output", Layout: LayoutSingleIn,
			Inputs: 1, DefaultParam: 1,
			// The runtime collects arrivals at output nodes before
			// dispatch; this behavior exists to satisfy the catalog
			// contract and emits nothing.
			OnSignal: func(*BehaviorContext) *SignalResult { return nil },
		},
		{
			Type: "random", Label: "Random", Layout: LayoutSingleIO,
			Inputs: 1, Outputs: 1, DefaultParam: 1,
			OnSignal: func(ctx *BehaviorContext) *SignalResult {
				return &SignalResult{Outputs: []EmittedOutput{
					{Slot: 0, Value: grid.StepMin + ctx.Rand.Intn(grid.StepMax)},
				}}
			},
		},
		{
			Type: "speed", Label: "Speed", Layout: LayoutSingleIO,
			Inputs: 1, Outputs: 1, DefaultParam: 1,
			OnSignal: func(ctx *BehaviorContext) *SignalResult {
				return &SignalResult{Outputs: []EmittedOutput{
					{Slot: 0, Value: ctx.Pulse.Value, Speed: ctx.Param},
				}}
			},
		},
		{
			Type: "set", Label: "Set", Layout: LayoutSingleIOControl,
			Inputs: 1, Outputs: 1, ControlPorts: 1, DefaultParam: 1,
			OnControl: func(ctx *BehaviorContext) *ControlResult {
				return &ControlResult{Param: IntParam(ctx.Pulse.Value)}
			},
			OnSignal: func(ctx *BehaviorContext) *SignalResult {
				return &SignalResult{Outputs: []EmittedOutput{
					{Slot: 0, Value: ctx.Param},
				}}
			},
		},
		{
			Type: "gate", Label: "Gate", Layout: LayoutSingleIOControl,
			Inputs: 1, Outputs: 1, ControlPorts: 1, DefaultParam: 1,
			InitState: func() map[string]any { return map[string]any{"open": true} },
			OnControl: func(ctx *BehaviorContext) *ControlResult {
				open, _ := ctx.State["open"].(bool)
				return &ControlResult{State: map[string]any{"open": !open}}
			},
			OnSignal: func(ctx *BehaviorContext) *SignalResult {
				if open, _ := ctx.State["open"].(bool); !open {
					return nil
				}
				return &SignalResult{Outputs: []EmittedOutput{
					{Slot: 0, Value: ctx.Pulse.Value},
				}}
			},
		},
		paramTagDef("decay", "Decay", "end", "decayTable", 1),
		paramTagDef("crush", "Crush", "crush", "crushTable", 1),
		paramTagDef("lpf", "LPF", "lpf", "lpfTable", 1),
		paramTagDef("hpf", "HPF", "hpf", "hpfTable", 1),
		{
			Type: "spread", Label: "Spread", Layout: LayoutMultiOut6,
			Inputs: 1, Outputs: 6, DefaultParam: 1,
			InitState: func() map[string]any { return map[string]any{"next": 0} },
			OnSignal: func(ctx *BehaviorContext) *SignalResult {
				next, _ := ctx.State["next"].(int)
				return &SignalResult{
					Outputs: []EmittedOutput{{Slot: next % 6, Value: ctx.Pulse.Value}},
					State:   map[string]any{"next": (next + 1) % 6},
				}
			},
		},
		{
			Type: "route", Label: "Route", Layout: LayoutMultiOut6Control,
			Inputs: 1, Outputs: 6, ControlPorts: 1, DefaultParam: 1,
			OnControl: func(ctx *BehaviorContext) *ControlResult {
				return &ControlResult{Param: IntParam(ctx.Pulse.Value)}
			},
			OnSignal: func(ctx *BehaviorContext) *SignalResult {
				return &SignalResult{Outputs: []EmittedOutput{
					{Slot: (ctx.Param - 1) % 6, Value: ctx.Pulse.Value},
				}}
			},
		},
		{
			Type: "merge", Label: "Merge", Layout: LayoutMultiIn6,
			Inputs: 6, Outputs: 1, DefaultParam: 1,
			OnSignal: func(ctx *BehaviorContext) *SignalResult {
				return &SignalResult{Outputs: []EmittedOutput{
					{Slot: 0, Value: ctx.Pulse.Value},
				}}
			},
		},
		{
			// Group shell: structural only, flattened away by the builder.
			Type: TypeGroup, Label: "Group", Layout: LayoutCustom,
			DefaultParam: 1,
		},
	}
}

// paramTagDef builds the shared shape of the effect-param nodes: a
// single-io-control node whose control pulse sets the param and whose signal
// path tags the param onto the passing pulse under the wire target key.
func paramTagDef(typ, label, target, mapping string, def int) Definition {
	return Definition{
		Type: typ, Label: label, Layout: LayoutSingleIOControl,
		Inputs: 1, Outputs: 1, ControlPorts: 1, DefaultParam: def,
		ParamMap: &ParamMap{Target: target, Mapping: mapping},
		OnControl: func(ctx *BehaviorContext) *ControlResult {
			return &ControlResult{Param: IntParam(ctx.Pulse.Value)}
		},
		OnSignal: func(ctx *BehaviorContext) *SignalResult {
			return &SignalResult{Outputs: []EmittedOutput{{
				Slot:   0,
				Value:  ctx.Pulse.Value,
				Params: MergeParams(ctx.Pulse.Params, target, ctx.Param),
			}}}
		},
	}
}
