package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pulsegrid/internal/registry"
)

const echoTapCUE = `
nodes: {
	"echo-tap": {
		label:        "Echo Tap"
		layout:       "single-io-control"
		inputs:       1
		outputs:      1
		controlPorts: 1
		defaultParam: 3
		paramMap: {target: "end", mapping: "decayTable"}
	}
}
`

func echoTapBehaviors() map[string]Behaviors {
	return map[string]Behaviors{
		"echo-tap": {
			OnSignal: func(ctx *registry.BehaviorContext) *registry.SignalResult {
				return &registry.SignalResult{Outputs: []registry.EmittedOutput{
					{Slot: 0, Value: ctx.Pulse.Value},
				}}
			},
		},
	}
}

func TestCompileString_BindsBehaviors(t *testing.T) {
	defs, err := CompileString(echoTapCUE, echoTapBehaviors())
	require.NoError(t, err)
	require.Len(t, defs, 1)

	d := defs[0]
	assert.Equal(t, "echo-tap", d.Type)
	assert.Equal(t, "Echo Tap", d.Label)
	assert.Equal(t, registry.LayoutSingleIOControl, d.Layout)
	assert.Equal(t, 1, d.Inputs)
	assert.Equal(t, 1, d.ControlPorts)
	assert.Equal(t, 3, d.DefaultParam)
	require.NotNil(t, d.ParamMap)
	assert.Equal(t, "end", d.ParamMap.Target)
	assert.Equal(t, "decayTable", d.ParamMap.Mapping)
	assert.NotNil(t, d.OnSignal)
}

func TestCompileString_CompiledDefsExtendTheRegistry(t *testing.T) {
	defs, err := CompileString(echoTapCUE, echoTapBehaviors())
	require.NoError(t, err)

	all := append(registry.Builtin(), defs...)
	reg, err := registry.New(all...)
	require.NoError(t, err)

	_, ok := reg.Get("echo-tap")
	assert.True(t, ok)
}

func TestCompileString_MissingBehaviorsFails(t *testing.T) {
	_, err := CompileString(echoTapCUE, nil)
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "echo-tap", cerr.Field)
}

func TestCompileString_MissingRequiredField(t *testing.T) {
	_, err := CompileString(`nodes: {"x": {layout: "single-io"}}`, map[string]Behaviors{"x": {}})
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "label", cerr.Field)
}

func TestCompileString_BadCUEFails(t *testing.T) {
	_, err := CompileString(`nodes: {`, nil)
	assert.Error(t, err)
}

func TestCompileString_RegistryRejectsBadArchetype(t *testing.T) {
	src := `nodes: {"weird": {label: "Weird", layout: "diagonal-io"}}`
	defs, err := CompileString(src, map[string]Behaviors{"weird": {
		OnSignal: func(*registry.BehaviorContext) *registry.SignalResult { return nil },
	}})
	require.NoError(t, err, "catalog passes layout through; the registry owns validation")

	_, err = registry.New(defs...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(registry.CodeInvalidArchetype))
}
