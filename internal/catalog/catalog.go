// Package catalog compiles node-type declarations written in CUE into
// registry definitions.
//
// Behaviors are Go functions and stay in Go; CUE carries the declarative
// half of a definition (layout, port counts, defaults, param mapping) so
// hosts can extend the catalog without recompiling. Compiled definitions
// are bound to their behaviors by type key, then validated by the registry
// as usual.
package catalog

import (
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pulsegrid/internal/registry"
)

// Behaviors is the Go half of a catalog entry.
type Behaviors struct {
	InitState func() map[string]any
	OnControl func(*registry.BehaviorContext) *registry.ControlResult
	OnSignal  func(*registry.BehaviorContext) *registry.SignalResult
	// Period, when non-zero, marks a self-firing source.
	Period float64
}

// CompileError is a catalog compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileString compiles CUE source of the form
//
//	nodes: {
//		"echo-tap": {
//			label:        "Echo Tap"
//			layout:       "single-io-control"
//			inputs:       1
//			outputs:      1
//			controlPorts: 1
//			defaultParam: 1
//			paramMap: {target: "end", mapping: "decayTable"}
//		}
//	}
//
// into definitions, binding behaviors by type key. A declared type without
// behaviors is an error: metadata alone cannot run.
func CompileString(src string, behaviors map[string]Behaviors) ([]registry.Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v, behaviors)
}

// Compile parses an already-built CUE value.
func Compile(v cue.Value, behaviors map[string]Behaviors) ([]registry.Definition, error) {
	nodesVal := v.LookupPath(cue.ParsePath("nodes"))
	if !nodesVal.Exists() {
		return nil, &CompileError{Field: "nodes", Message: "nodes struct is required", Pos: v.Pos()}
	}

	iter, err := nodesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []registry.Definition
	for iter.Next() {
		typeKey := iter.Label()
		def, err := compileDefinition(typeKey, iter.Value())
		if err != nil {
			return nil, err
		}
		b, ok := behaviors[typeKey]
		if !ok {
			return nil, &CompileError{
				Field:   typeKey,
				Message: "no behaviors bound for declared type",
				Pos:     iter.Value().Pos(),
			}
		}
		def.InitState = b.InitState
		def.OnControl = b.OnControl
		def.OnSignal = b.OnSignal
		def.Period = b.Period
		defs = append(defs, def)
	}
	return defs, nil
}

func compileDefinition(typeKey string, v cue.Value) (registry.Definition, error) {
	def := registry.Definition{Type: typeKey}

	label, err := requiredString(v, "label")
	if err != nil {
		return def, err
	}
	def.Label = label

	layout, err := requiredString(v, "layout")
	if err != nil {
		return def, err
	}
	def.Layout = registry.Archetype(layout)

	if def.Inputs, err = optionalInt(v, "inputs", 0); err != nil {
		return def, err
	}
	if def.Outputs, err = optionalInt(v, "outputs", 0); err != nil {
		return def, err
	}
	if def.ControlPorts, err = optionalInt(v, "controlPorts", 0); err != nil {
		return def, err
	}
	if def.DefaultParam, err = optionalInt(v, "defaultParam", 1); err != nil {
		return def, err
	}

	pmVal := v.LookupPath(cue.ParsePath("paramMap"))
	if pmVal.Exists() {
		target, err := requiredString(pmVal, "target")
		if err != nil {
			return def, err
		}
		mapping, err := requiredString(pmVal, "mapping")
		if err != nil {
			return def, err
		}
		def.ParamMap = &registry.ParamMap{Target: target, Mapping: mapping}
	}

	return def, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: "field is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalInt(v cue.Value, field string, def int) (int, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return def, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
