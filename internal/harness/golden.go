package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pulsegrid/internal/grid"
)

// RunWithGolden executes a scenario and compares its trace against the
// golden file testdata/golden/<name>.golden.
//
// Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) error {
	t.Helper()

	result, err := Run(s)
	if err != nil {
		return err
	}

	payload, err := traceBytes(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, payload)
	return nil
}

// traceBytes renders a result as canonical JSON, the byte-stable trace
// form golden files store.
func traceBytes(r *Result) ([]byte, error) {
	events := make([]any, len(r.Events))
	for i, ev := range r.Events {
		m := map[string]any{
			"node":  string(ev.Node),
			"tick":  ev.Tick,
			"value": ev.Value,
		}
		if len(ev.Params) > 0 {
			m["params"] = ev.Params
		}
		events[i] = m
	}
	return grid.MarshalCanonical(map[string]any{
		"scenario": r.Scenario.Name,
		"events":   events,
	})
}
