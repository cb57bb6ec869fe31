package registry

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/roach88/pulsegrid/internal/grid"
)

// ValidationCode categorizes registry construction errors.
type ValidationCode string

const (
	CodeDuplicateType     ValidationCode = "REG_DUPLICATE_TYPE"
	CodeTypeNotKebab      ValidationCode = "REG_TYPE_NOT_KEBAB"
	CodeMissingField      ValidationCode = "REG_MISSING_FIELD"
	CodeInvalidArchetype  ValidationCode = "REG_INVALID_ARCHETYPE"
	CodePortCountMismatch ValidationCode = "REG_PORT_COUNT_MISMATCH"
	CodeControlNotAllowed ValidationCode = "REG_CONTROL_NOT_ALLOWED"
	CodeMissingOnSignal   ValidationCode = "REG_MISSING_ON_SIGNAL"
	CodeDefaultParamRange ValidationCode = "REG_DEFAULT_PARAM_RANGE"
)

// ValidationError is a single registry construction failure.
type ValidationError struct {
	Code    ValidationCode
	Type    string // node type key, if known
	Message string
}

func (e *ValidationError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ParamMap links a node's param to an audio-side mapping table. The Target
// is the wire key the param rides under on emitted pulses; Mapping names
// the per-value table the audio bridge applies.
type ParamMap struct {
	Target  string `json:"target"`
	Mapping string `json:"mapping"`
}

// Definition describes one node type.
type Definition struct {
	// Type is the unique kebab-case key.
	Type string
	// Label is UI metadata; unused by the engine but carried for hosts.
	Label string

	// Layout selects the port-placement archetype.
	Layout Archetype

	// Port counts. Inputs counts signal inputs only; control ports are
	// appended after signal inputs in slot order.
	Inputs       int
	Outputs      int
	ControlPorts int

	// DefaultParam seeds the node param when the snapshot carries no
	// override. Must be within step range.
	DefaultParam int

	// Period is the self-firing interval in ticks for source nodes.
	// Zero for everything that only reacts to incoming pulses.
	Period float64

	ParamMap *ParamMap

	// Behavior functions. OnSignal is mandatory except for custom-layout
	// (group shell) definitions, which are flattened away before the
	// runtime ever dispatches into them.
	InitState func() map[string]any
	OnControl func(*BehaviorContext) *ControlResult
	OnSignal  func(*BehaviorContext) *SignalResult
}

var kebabRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Registry is the validated, immutable catalog.
type Registry struct {
	defs  map[string]*Definition
	order []string
}

// New validates the definitions and builds a Registry. All violations are
// collected and returned joined; a registry is only produced when every
// definition is clean. Registry errors are startup errors, not runtime
// conditions.
func New(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	var errs []error

	for i := range defs {
		d := defs[i]
		for _, verr := range validateDefinition(&d) {
			errs = append(errs, verr)
		}
		if _, dup := r.defs[d.Type]; dup {
			errs = append(errs, &ValidationError{
				Code: CodeDuplicateType, Type: d.Type,
				Message: "type registered twice",
			})
			continue
		}
		r.defs[d.Type] = &d
		r.order = append(r.order, d.Type)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// MustNew is New but panics on validation failure. Intended for the builtin
// catalog and tests, where definitions are known-good.
func MustNew(defs ...Definition) *Registry {
	r, err := New(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the definition for a type key.
func (r *Registry) Get(typ string) (*Definition, bool) {
	d, ok := r.defs[typ]
	return d, ok
}

// Types returns all type keys in registration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ParamTargets returns target key -> (mapping name, default param) for every
// definition carrying a ParamMap, in registration order. The audio bridge
// uses this to fill missing params and choose mapping tables.
func (r *Registry) ParamTargets() map[string]ParamTarget {
	out := make(map[string]ParamTarget)
	for _, typ := range r.order {
		d := r.defs[typ]
		if d.ParamMap == nil {
			continue
		}
		if _, seen := out[d.ParamMap.Target]; seen {
			continue
		}
		out[d.ParamMap.Target] = ParamTarget{
			Mapping:      d.ParamMap.Mapping,
			DefaultParam: d.DefaultParam,
		}
	}
	return out
}

// ParamTarget pairs a mapping table name with the default param used to
// backfill events that never passed through the owning node type.
type ParamTarget struct {
	Mapping      string
	DefaultParam int
}

func validateDefinition(d *Definition) []*ValidationError {
	var errs []*ValidationError
	fail := func(code ValidationCode, msg string) {
		errs = append(errs, &ValidationError{Code: code, Type: d.Type, Message: msg})
	}

	if d.Type == "" {
		fail(CodeMissingField, "type key is required")
	} else if !kebabRe.MatchString(d.Type) {
		fail(CodeTypeNotKebab, "type key must be kebab-case")
	}
	if d.Label == "" {
		fail(CodeMissingField, "label is required")
	}

	spec, ok := archetypeSpecs[d.Layout]
	if !ok {
		fail(CodeInvalidArchetype, fmt.Sprintf("unknown archetype %q", d.Layout))
		return errs
	}

	if d.Layout != LayoutCustom {
		if spec.inputs != d.Inputs || spec.outputs != d.Outputs {
			fail(CodePortCountMismatch, fmt.Sprintf(
				"archetype %s wants %d in / %d out, got %d / %d",
				d.Layout, spec.inputs, spec.outputs, d.Inputs, d.Outputs))
		}
		if d.ControlPorts > 0 && !spec.allowControl {
			fail(CodeControlNotAllowed, fmt.Sprintf(
				"archetype %s does not accept control ports", d.Layout))
		}
		if d.ControlPorts == 0 && spec.requireControl {
			fail(CodePortCountMismatch, fmt.Sprintf(
				"archetype %s requires at least one control port", d.Layout))
		}
	}

	if d.OnSignal == nil && d.Layout != LayoutCustom {
		fail(CodeMissingOnSignal, "onSignal behavior is required")
	}
	if d.DefaultParam != 0 && !grid.InStepRange(d.DefaultParam) {
		fail(CodeDefaultParamRange, fmt.Sprintf(
			"default param %d outside %d..%d", d.DefaultParam, grid.StepMin, grid.StepMax))
	}
	return errs
}
