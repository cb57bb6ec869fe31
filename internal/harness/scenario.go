// Package harness executes end-to-end scenarios against the whole engine
// pipeline: ops into the model, geometry through the router, a compiled
// graph into the runtime, and a windowed query out the other side.
//
// Scenarios are YAML documents; expected traces live in golden files. The
// pipeline is fully deterministic, so golden bytes are stable across runs
// and machines.
package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one conformance scenario.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description,omitempty"`

	// Graph is the patch under test.
	Graph GraphDoc `yaml:"graph"`

	// Window is the queried tick range.
	Window Window `yaml:"window"`

	// Seed is the runtime's global RNG seed. Fixed per scenario so random
	// nodes replay identically.
	Seed uint64 `yaml:"seed,omitempty"`

	// TicksPerGrid overrides the routing scale; 0 means the default 1.
	TicksPerGrid float64 `yaml:"ticksPerGrid,omitempty"`
}

// GraphDoc is the scenario's patch description.
type GraphDoc struct {
	Nodes []NodeDoc `yaml:"nodes"`
	Edges []EdgeDoc `yaml:"edges"`
}

// NodeDoc is one node in scenario form.
type NodeDoc struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	X     int    `yaml:"x"`
	Y     int    `yaml:"y"`
	Rot   int    `yaml:"rot,omitempty"`
	Param int    `yaml:"param,omitempty"`
}

// EdgeDoc is one edge in scenario form.
type EdgeDoc struct {
	ID       string `yaml:"id"`
	From     string `yaml:"from"`
	FromSlot int    `yaml:"fromSlot"`
	To       string `yaml:"to"`
	ToSlot   int    `yaml:"toSlot"`
}

// Window is a half-open tick range.
type Window struct {
	From float64 `yaml:"from"`
	To   float64 `yaml:"to"`
}

// LoadScenario parses a scenario from YAML bytes.
func LoadScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario needs a name")
	}
	if s.Window.To <= s.Window.From {
		return nil, fmt.Errorf("scenario %q: window [%v, %v) is empty", s.Name, s.Window.From, s.Window.To)
	}
	return &s, nil
}

// LoadScenarioFile parses a scenario from a YAML file.
func LoadScenarioFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	return LoadScenario(data)
}
